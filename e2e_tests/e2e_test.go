package e2etests

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/suite"

	"github.com/RichardKnop/minikv"
)

const (
	usersTable  = "users"
	ordersTable = "orders"
)

var gen = newDataGen(uint64(time.Now().Unix()))

type dataGen struct {
	*gofakeit.Faker
}

func newDataGen(seed uint64) *dataGen {
	return &dataGen{Faker: gofakeit.New(seed)}
}

type user struct {
	ID    int32
	Email string
}

func (g *dataGen) Users(n int) []user {
	users := make([]user, 0, n)
	for i := range n {
		users = append(users, user{ID: int32(i + 1), Email: g.Email()})
	}
	return users
}

type TestSuite struct {
	suite.Suite
	ctx    context.Context
	dbPath string
	db     *minikv.DB
}

func TestEndToEnd(t *testing.T) {
	suite.Run(t, new(TestSuite))
}

func (s *TestSuite) SetupTest() {
	s.ctx = context.Background()
	s.dbPath = filepath.Join(s.T().TempDir(), "e2e.db")
	s.db = s.open()
}

func (s *TestSuite) TearDownTest() {
	s.Require().NoError(s.db.Close(s.ctx))
}

func (s *TestSuite) open() *minikv.DB {
	aDB, err := minikv.Open(s.dbPath + "?degree=8&cache_blocks=16&checkpoint_every=100&sync=false&log_level=error")
	s.Require().NoError(err)
	return aDB
}

// reopen closes the database to force every node to be read back from disk.
func (s *TestSuite) reopen() {
	s.Require().NoError(s.db.Close(s.ctx))
	s.db = s.open()
}

func (s *TestSuite) insertUsers(users []user) {
	for _, aUser := range users {
		s.Require().NoError(s.db.Insert(s.ctx, usersTable, aUser.ID, aUser.Email))
	}
}

func (s *TestSuite) countEntries(table string, expected int) {
	entries, err := s.db.RangeSearch(s.ctx, table, -1<<31, 1<<31-1)
	s.Require().NoError(err)
	s.Len(entries, expected)
}
