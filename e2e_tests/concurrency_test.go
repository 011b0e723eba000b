package e2etests

import (
	"sync"
)

func (s *TestSuite) TestConcurrency() {
	s.Require().NoError(s.db.CreateTable(s.ctx, usersTable))

	usersToInsert := gen.Users(1000)

	s.Run("Concurrently insert users", func() {
		workerPool := make(chan struct{}, 20) // limit concurrency to 20 goroutines
		for range 20 {
			workerPool <- struct{}{}
		}

		wg := sync.WaitGroup{}
		for _, aUser := range usersToInsert {
			<-workerPool

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { workerPool <- struct{}{} }()

				s.NoError(s.db.Insert(s.ctx, usersTable, aUser.ID, aUser.Email))
			}()
		}
		wg.Wait()

		s.countEntries(usersTable, 1000)
	})

	s.Run("Reinitialise to force unmarshaling from disk", func() {
		s.reopen()
		s.countEntries(usersTable, 1000)
	})

	s.Run("Concurrently run point lookups", func() {
		workerPool := make(chan struct{}, 20)
		for range 20 {
			workerPool <- struct{}{}
		}

		wg := sync.WaitGroup{}
		for _, aUser := range usersToInsert[:200] {
			<-workerPool

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { workerPool <- struct{}{} }()

				email, ok, err := s.db.Search(s.ctx, usersTable, aUser.ID)
				s.NoError(err)
				s.True(ok)
				s.Equal(aUser.Email, email)
			}()
		}
		wg.Wait()
	})
}
