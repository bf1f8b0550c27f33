package main

import (
	"context"
	"fmt"
	logger "log"
	"os"
	"time"

	"github.com/OpenTransitTools/stoptracker/app/route-loader/routeloader"
	"github.com/OpenTransitTools/stoptracker/business/data/transit"
	"github.com/OpenTransitTools/stoptracker/foundation/database"
	"github.com/OpenTransitTools/stoptracker/foundation/httpclient"
	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "ROUTE_LOADER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	if err := godotenv.Load(); err == nil {
		log.Println("main: loaded .env")
	}

	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User         string `conf:"default:postgres"`
			Password     string `conf:"default:postgres,noprint"`
			Host         string `conf:"default:0.0.0.0"`
			Name         string `conf:"default:postgres"`
			DisableTLS   bool   `conf:"default:true"`
			CreateSchema bool   `conf:"default:true"`
		}
		GTFS struct {
			Url             string        `conf:"default:https://developer.trimet.org/schedule/gtfs.zip"`
			DownloadTimeout time.Duration `conf:"default:5m"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Load route stop orderings from a gtfs schedule"
	if err := conf.Parse(os.Args[1:], "ROUTE_LOADER", &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage("ROUTE_LOADER", &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString("ROUTE_LOADER", &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	// =========================================================================
	// Start Database

	log.Println("main: Initializing database support")

	db, err := database.Open(database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		err = db.Close()
		if err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GTFS.DownloadTimeout)
	defer cancel()

	switch cfg.Args.Num(0) {
	case "load":
		if cfg.DB.CreateSchema {
			if err = transit.CreateSchema(ctx, db); err != nil {
				return fmt.Errorf("creating schema: %w", err)
			}
		}
		source := cfg.GTFS.Url
		if cfg.Args.Num(1) != "" {
			source = cfg.Args.Num(1)
		}
		count, err := routeloader.LoadRoutes(ctx, log, db, httpclient.New(cfg.GTFS.DownloadTimeout), source)
		if err != nil {
			return err
		}
		log.Printf("main: loaded %d routes from %s", count, source)
		return nil
	case "show":
		routeId := cfg.Args.Num(1)
		if len(routeId) < 1 {
			return fmt.Errorf("expected route id with command show")
		}
		return routeloader.ShowRoute(ctx, log, db, routeId)

	default:
		fmt.Println("load [file or url]: replace route stops with those of a gtfs schedule")
		fmt.Println("show route_id: list the recorded stops of a route")
		usage, err := conf.Usage("ROUTE_LOADER", &cfg)
		if err != nil {
			return fmt.Errorf("generating config usage: %w", err)
		}
		fmt.Println(usage)
	}
	return nil
}
