package transit

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	"create table if not exists route_stop (" +
		"route_id varchar(255) not null, " +
		"stop_id varchar(255) not null, " +
		"stop_sequence integer not null, " +
		"stop_name varchar(255) not null default '', " +
		"stop_lat double precision not null, " +
		"stop_lon double precision not null, " +
		"primary key (route_id, stop_sequence))",
	"create index if not exists route_stop_stop_id_idx on route_stop (stop_id)",
	"create table if not exists bus_position (" +
		"bus_id varchar(255) primary key, " +
		"route_id varchar(255) not null, " +
		"trip_state varchar(32) not null, " +
		"current_stop_sequence integer not null default 0, " +
		"lat double precision, " +
		"lon double precision, " +
		"speed_kmh double precision not null default 0, " +
		"at_stop boolean not null default false, " +
		"recorded_at timestamp with time zone not null, " +
		"updated_at timestamp with time zone not null, " +
		"trip_started_at timestamp with time zone not null)",
}

// CreateSchema creates the route_stop and bus_position tables when missing
func CreateSchema(ctx context.Context, db *sqlx.DB) error {
	for _, statement := range schema {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("unable to create schema: %w", err)
		}
	}
	return nil
}
