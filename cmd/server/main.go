package main

import (
	"time"

	"proforma-reconciliation-backend/internal/config"
	"proforma-reconciliation-backend/internal/logger"
	"proforma-reconciliation-backend/internal/models"
	"proforma-reconciliation-backend/internal/routes"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	log := logger.New()

	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, relying on system env")
	}

	db := config.InitDB()

	db.AutoMigrate(
		&models.Proforma{},
		&models.Payment{},
		&models.RescoreRun{},
		&models.ManualOverride{},
	)

	matchingCfg, err := config.LoadMatching("matching.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid matching config")
	}

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Actor"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, db, matchingCfg, log)

	addr := config.ServerAddr()
	log.Info().Str("addr", addr).Msg("starting reconciliation server")
	if err := r.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
