package main

import (
	"context"
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenTransitTools/stoptracker/app/bus-tracker/tracker"
	"github.com/OpenTransitTools/stoptracker/business/data/transit"
	"github.com/OpenTransitTools/stoptracker/business/routing"
	"github.com/OpenTransitTools/stoptracker/business/stopprogress"
	"github.com/OpenTransitTools/stoptracker/foundation/database"
	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "BUS_TRACKER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	// values in an optional .env file are used when not already set in the environment
	if err := godotenv.Load(); err == nil {
		log.Println("main: loaded .env")
	}

	var cfg struct {
		conf.Version
		Args                         conf.Args
		AtStopThresholdMeters        float64       `conf:"default:150"`
		PassedDetourRatio            float64       `conf:"default:1.5"`
		RoadDistanceCorrectionFactor float64       `conf:"default:1.3"`
		DefaultAssumedSpeedKmh       float64       `conf:"default:25"`
		ArrivingThresholdMinutes     float64       `conf:"default:1"`
		ApproachingThresholdMinutes  float64       `conf:"default:3"`
		DistanceQueryTimeout         time.Duration `conf:"default:10s"`
		DB                           struct {
			User         string `conf:"default:postgres"`
			Password     string `conf:"default:postgres,noprint"`
			Host         string `conf:"default:0.0.0.0"`
			Name         string `conf:"default:postgres"`
			DisableTLS   bool   `conf:"default:true"`
			MaxOpenConns int    `conf:"default:10"`
			CreateSchema bool   `conf:"default:false"`
		}
		NATS struct {
			Url             string `conf:"default:nats://localhost:4222"`
			Enabled         bool   `conf:"default:true"`
			FixSubject      string `conf:"default:bus-gps-fixes"`
			ProgressSubject string `conf:"default:bus-stop-progress"`
		}
		Mapbox struct {
			Url             string        `conf:"default:https://api.mapbox.com"`
			AccessToken     string        `conf:"noprint"`
			Profile         string        `conf:"default:driving-traffic"`
			CacheSize       int           `conf:"default:4096"`
			CacheExpiration time.Duration `conf:"default:10m"`
		}
		Web struct {
			Port int `conf:"default:8080"`
		}
		GTFS struct {
			VehiclePositionsUrl   string
			LoadEverySeconds      int `conf:"default:5"`
			ExpirePositionSeconds int `conf:"default:300"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Track the stop progress of buses along their routes"
	const prefix = "TRACKER"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
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
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Host:         cfg.DB.Host,
		Name:         cfg.DB.Name,
		DisableTLS:   cfg.DB.DisableTLS,
		MaxOpenConns: cfg.DB.MaxOpenConns,
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

	statusCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = database.StatusCheck(statusCtx, db)
	cancel()
	if err != nil {
		return fmt.Errorf("checking db status: %w", err)
	}
	if cfg.DB.CreateSchema {
		if err = transit.CreateSchema(context.Background(), db); err != nil {
			return err
		}
	}

	// =========================================================================
	// Start NATS

	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		log.Printf("main: Connecting to NATS\n")
		natsConn, err = nats.Connect(cfg.NATS.Url)
		if err != nil {
			return fmt.Errorf("unable to connect to NATS server at %s: %w", cfg.NATS.Url, err)
		}
		defer natsConn.Close()
	}

	// =========================================================================
	// Distance provider and tracker

	metrics := tracker.NewCollector()

	var live routing.Source
	if cfg.Mapbox.AccessToken != "" {
		mapbox := routing.NewMapbox(routing.MapboxConfig{
			BaseURL:     cfg.Mapbox.Url,
			AccessToken: cfg.Mapbox.AccessToken,
			Profile:     cfg.Mapbox.Profile,
			Timeout:     cfg.DistanceQueryTimeout,
		})
		live = routing.NewCachedSource(mapbox, cfg.Mapbox.CacheSize, cfg.Mapbox.CacheExpiration)
	} else {
		log.Printf("main: No Mapbox access token, distances will be estimated")
	}
	estimator := routing.NewEstimator(cfg.RoadDistanceCorrectionFactor, cfg.DefaultAssumedSpeedKmh)
	provider := routing.NewFallback(log, live, estimator, metrics)

	stopTracker := stopprogress.NewTracker(log, provider, stopprogress.Config{
		AtStopThresholdMeters: cfg.AtStopThresholdMeters,
		PassedDetourRatio:     cfg.PassedDetourRatio,
		Arrival: stopprogress.ArrivalThresholds{
			AtStopMeters:       cfg.AtStopThresholdMeters,
			ArrivingMinutes:    cfg.ArrivingThresholdMinutes,
			ApproachingMinutes: cfg.ApproachingThresholdMinutes,
		},
	}, metrics)

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return tracker.StartServices(log, tracker.ServiceConfig{
		HttpPort:              cfg.Web.Port,
		FixSubject:            cfg.NATS.FixSubject,
		ProgressSubject:       cfg.NATS.ProgressSubject,
		VehiclePositionsUrl:   cfg.GTFS.VehiclePositionsUrl,
		LoadEverySeconds:      cfg.GTFS.LoadEverySeconds,
		ExpirePositionSeconds: cfg.GTFS.ExpirePositionSeconds,
	}, stopTracker, tracker.NewDBStore(db), natsConn, metrics, shutdown)
}
