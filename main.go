package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"fifo-costing/internal/api"
	"fifo-costing/internal/config"
	"fifo-costing/internal/db"
	"fifo-costing/internal/logger"
)

var version = "dev"

func main() {
	port := flag.Int("port", 8480, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path (default data/fifo.db)")
	cfgPath := flag.String("config", "", "optional YAML config file for first boot")
	flag.Parse()

	logger.Banner(version)

	path := *dbPath
	if path == "" {
		wd, _ := os.Getwd()
		dataDir := filepath.Join(wd, "data")
		os.MkdirAll(dataDir, 0755)
		path = filepath.Join(dataDir, "fifo.db")
	}

	database, err := db.Open(path)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	// The YAML file seeds the config table on first boot; after that the
	// DB-persisted values win and are edited over the API.
	if !database.HasConfig() {
		fileCfg, err := config.LoadFile(*cfgPath)
		if err != nil {
			logger.Error("CONFIG", fmt.Sprintf("Failed to load config file: %v", err))
			os.Exit(1)
		}
		if err := database.SaveConfig(fileCfg); err != nil {
			logger.Error("CONFIG", fmt.Sprintf("Failed to seed config: %v", err))
			os.Exit(1)
		}
	}
	cfg := database.LoadConfig()

	logger.Section("Runtime")
	logger.Stats("database", path)
	logger.Stats("order label", cfg.OrderTypeLabel)
	logger.Stats("timezone", cfg.ReportingTimezone)
	logger.Stats("negative lots", cfg.AllowNegativeLots)

	srv := api.NewServer(cfg, database)

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	logger.Server(addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
}
