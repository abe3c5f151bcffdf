// migrate aplica o revierte el esquema embebido sin levantar la API.
//
// Uso: go run ./cmd/migrate [up | down [pasos] | version]
// Lee la conexión de DATABASE_URL o DB_* igual que la API.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/postgres"
	"github.com/jhoicas/zatca-einvoicing/pkg/config"
	"github.com/jhoicas/zatca-einvoicing/pkg/logger"
)

func main() {
	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cargar configuración: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})

	m, err := postgres.NewMigrator(cfg.DB.ConnectionString(), log.Component("migrate"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Abrir migraciones: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = m.Close() }()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		steps := 1
		if len(os.Args) > 2 {
			steps, err = strconv.Atoi(os.Args[2])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Pasos inválidos %q\n", os.Args[2])
				os.Exit(2)
			}
		}
		err = m.Down(steps)
	case "version":
		var (
			v     uint
			dirty bool
		)
		v, dirty, err = m.Version()
		if err == nil {
			fmt.Printf("versión %d (dirty=%t)\n", v, dirty)
		}
	default:
		fmt.Fprintf(os.Stderr, "Comando desconocido %q: use up, down o version\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}
