package e2etests

import (
	"github.com/RichardKnop/minikv"
)

func (s *TestSuite) TestEmptyDatabase() {
	s.Equal([]string{minikv.MainTable}, s.db.Tables())
	s.countEntries(minikv.MainTable, 0)

	aStats := s.db.Stats()
	s.Equal(1, aStats.Tables)
	s.Equal(0, aStats.FreeBlocks)
}

func (s *TestSuite) TestCreateAndDropTables() {
	s.Require().NoError(s.db.CreateTable(s.ctx, usersTable))
	s.Require().NoError(s.db.CreateTable(s.ctx, ordersTable))
	s.Equal([]string{minikv.MainTable, ordersTable, usersTable}, s.db.Tables())

	err := s.db.CreateTable(s.ctx, usersTable)
	s.ErrorIs(err, minikv.ErrTableExists)

	s.insertUsers(gen.Users(500))

	s.Run("Reopen keeps tables and entries", func() {
		s.reopen()

		s.Equal([]string{minikv.MainTable, ordersTable, usersTable}, s.db.Tables())
		s.countEntries(usersTable, 500)
		s.countEntries(ordersTable, 0)
	})

	s.Run("Drop table returns its blocks", func() {
		nextBlock := s.db.Stats().NextBlock

		s.Require().NoError(s.db.DropTable(s.ctx, usersTable))
		s.Equal([]string{minikv.MainTable, ordersTable}, s.db.Tables())
		s.Greater(s.db.Stats().FreeBlocks, 0)

		s.Require().NoError(s.db.CreateTable(s.ctx, usersTable))
		s.insertUsers(gen.Users(100))
		s.Equal(nextBlock, s.db.Stats().NextBlock)
	})

	s.Run("Dropped table stays dropped", func() {
		s.Require().NoError(s.db.DropTable(s.ctx, ordersTable))
		s.reopen()

		s.Equal([]string{minikv.MainTable, usersTable}, s.db.Tables())
		s.countEntries(usersTable, 100)
	})
}

func (s *TestSuite) TestUpdateAndDelete() {
	s.Require().NoError(s.db.CreateTable(s.ctx, usersTable))

	users := gen.Users(300)
	s.insertUsers(users)

	for i := 0; i < len(users); i += 2 {
		users[i].Email = "updated." + users[i].Email
		s.Require().NoError(s.db.Insert(s.ctx, usersTable, users[i].ID, users[i].Email))
	}
	for i := 1; i < len(users); i += 4 {
		deleted, err := s.db.Delete(s.ctx, usersTable, users[i].ID)
		s.Require().NoError(err)
		s.True(deleted)
	}

	s.reopen()

	for i, aUser := range users {
		email, ok, err := s.db.Search(s.ctx, usersTable, aUser.ID)
		s.Require().NoError(err)
		if i%4 == 1 {
			s.False(ok, "user %d should be deleted", aUser.ID)
			continue
		}
		s.True(ok, "user %d not found", aUser.ID)
		s.Equal(aUser.Email, email)
	}

	entries, err := s.db.RangeSearch(s.ctx, usersTable, 100, 110)
	s.Require().NoError(err)
	for _, anEntry := range entries {
		s.GreaterOrEqual(anEntry.Key, int32(100))
		s.LessOrEqual(anEntry.Key, int32(110))
	}
	s.Len(entries, 8)
}
