package common

import (
	"log"
	"os"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ConnectDb opens the sqlite database named by dbFile, falling back to the
// sqlite_db environment variable when dbFile is empty. Foreign keys are left
// to the application layer; unique indexes are still created by migrations.
func ConnectDb(dbFile string) *gorm.DB {
	if dbFile == "" {
		dbFile = os.Getenv("sqlite_db")
	}
	if dbFile == "" {
		log.Println("sqlite_db not set")
		return nil
	}

	db, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Println("Error opening sqlite db: " + err.Error())
		return nil
	}
	log.Println("opened sqlite db at:", dbFile)
	return db
}
