package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"yamdb/auth"
	"yamdb/backoffice"
	"yamdb/catalog"
	"yamdb/common"
	"yamdb/database"
	emailpkg "yamdb/email"
	"yamdb/reviews"
	"yamdb/users"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	SQLiteDB      string `envconfig:"SQLITE_DB"`
	JWTSecret     string `envconfig:"JWT_SECRET" required:"true"`
	ImportDataDir string `envconfig:"IMPORT_DATA_DIR" default:"static/data"`
	AdminUsername string `envconfig:"ADMIN_USERNAME"`
	AdminEmail    string `envconfig:"ADMIN_EMAIL"`
}

func main() {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("env error: %v", err)
	}

	db := common.ConnectDb(cfg.SQLiteDB)
	if db == nil {
		log.Fatal("Failed to connect to database")
	}

	if err := database.RunMigrations(db); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	if err := database.EnsureSuperuser(db, cfg.AdminUsername, cfg.AdminEmail); err != nil {
		log.Fatal("Failed to create bootstrap superuser:", err)
	}

	router := gin.Default()

	authModule := auth.NewAuthModule(db, []byte(cfg.JWTSecret), emailpkg.NewEmailService())
	router.Use(authModule.Identify())

	authModule.RegisterRoutes(router)
	users.NewUsersModule(db).RegisterRoutes(router)
	catalog.NewCatalogModule(db).RegisterRoutes(router)
	reviews.NewReviewsModule(db).RegisterRoutes(router)
	backoffice.NewBackofficeModule(db, cfg.ImportDataDir).RegisterRoutes(router)

	log.Printf("Starting server on port %s...", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
