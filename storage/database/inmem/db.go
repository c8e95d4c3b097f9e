// Package inmemdb keeps the users and records in memory. It backs the tests and single-process demos.
package inmemdb

import (
	"sync"

	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/user"
)

type (
	DB struct {
		user    *userTable
		records *recordTable
	}

	userTable struct {
		mutex sync.RWMutex
		table map[string]*user.User
		order []string // ids by creation
	}

	recordTable struct {
		mutex sync.RWMutex
		table map[string][]collection.Record // {collection: records by creation}
	}
)

func Open() *DB {
	return &DB{
		user:    &userTable{table: make(map[string]*user.User)},
		records: &recordTable{table: make(map[string][]collection.Record)},
	}
}

// Reset drops all the data.
func (db *DB) Reset() {
	db.user.mutex.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.order = nil
	db.user.mutex.Unlock()

	db.records.mutex.Lock()
	db.records.table = make(map[string][]collection.Record)
	db.records.mutex.Unlock()
}
