package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ssohub.org/internal/migrate"
)

func main() {
	var (
		dsn   = flag.String("dsn", os.Getenv("SSOHUB_PG_DSN"), "postgres DSN")
		dir   = flag.String("dir", envOr("SSOHUB_MIGRATIONS_DIR", "migrations"), "migrations directory")
		table = flag.String("table", "", "override bookkeeping table name")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("dsn is required (flag -dsn or SSOHUB_PG_DSN)")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	mgr := migrate.NewManager(db, *dir, migrate.WithTable(*table))

	switch cmd {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			log.Fatalf("up: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			log.Fatalf("down: %v", err)
		}
		log.Println("last migration rolled back")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		if len(applied) == 0 {
			log.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			log.Println(name)
		}
	default:
		log.Fatalf("unknown command %q (want up, down, or status)", cmd)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
