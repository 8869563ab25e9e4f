package database

import (
	"log"

	"yamdb/models"

	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Genre{},
		&models.Title{},
		&models.TitleGenre{},
		&models.Review{},
		&models.Comment{},
	)

	if err != nil {
		log.Printf("Error running migrations: %v", err)
		return err
	}

	log.Println("Migrations completed successfully")
	return nil
}

// EnsureSuperuser creates the bootstrap superuser account when ADMIN_USERNAME
// and ADMIN_EMAIL are configured and no such user exists yet. The account
// still goes through the normal signup/token flow to obtain credentials.
func EnsureSuperuser(db *gorm.DB, username, email string) error {
	if username == "" || email == "" {
		return nil
	}

	var existing models.User
	if err := db.Where("username = ?", username).First(&existing).Error; err == nil {
		return nil
	} else if err != gorm.ErrRecordNotFound {
		return err
	}

	user := models.User{
		Username: username,
		Email:    email,
		Role:     models.RoleSuperuser,
		IsActive: true,
		IsAdmin:  true,
	}
	if err := db.Create(&user).Error; err != nil {
		return err
	}

	log.Printf("created bootstrap superuser %q", username)
	return nil
}
