/*
sqldb.go Records every solved interval and controller event in a SQL database.
Driver is "mysql" or "postgres".
*/

package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/control"
	"github.com/ohowland/vvc_core/internal/pkg/msg"
	"github.com/ohowland/vvc_core/internal/pkg/root"
	log "github.com/sirupsen/logrus"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

type Handler struct {
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	Driver   string `json:"Driver"`
	Server   string `json:"Server"`
	Port     int    `json:"Port"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	Database string `json:"Database"`
	SSLMode  string `json:"SSLMode"`
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func readConfig(configPath string) (config, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return config{}, err
	}
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return config{}, err
	}
	switch cfg.Driver {
	case "":
		cfg.Driver = "mysql"
	case "mysql", "postgres":
	default:
		return config{}, fmt.Errorf("sqldb: unsupported driver %q", cfg.Driver)
	}
	return cfg, nil
}

func New(configPath string, system msg.Publisher) (Handler, error) {
	cfg, err := readConfig(configPath)
	if err != nil {
		return Handler{}, err
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}

	inbox, err := system.Subscribe(pid, msg.Step, msg.Control)
	if err != nil {
		return Handler{}, err
	}

	return Handler{
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   make(chan bool, 1),
	}, nil
}

func (h *Handler) Stop() {
	h.stop <- true
}

// DSN is the data source name handed to the driver.
func (h Handler) DSN() string {
	c := h.config
	if c.Driver == "postgres" {
		ssl := c.SSLMode
		if ssl == "" {
			ssl = "disable"
		}
		return fmt.Sprintf("host=%v port=%v user=%v password=%v dbname=%v sslmode=%v",
			c.Server, c.Port, c.Username, c.Password, c.Database, ssl)
	}
	return fmt.Sprintf("%v:%v@tcp(%v:%v)/%v", c.Username, c.Password, c.Server, c.Port, c.Database)
}

func (h Handler) DB() (*sql.DB, error) {
	return sql.Open(h.config.Driver, h.DSN())
}

// rebind rewrites ? placeholders as $n for postgres.
func rebind(driver string, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const insertStep = `INSERT INTO step_records
(episode, mode, day, step, power_kw, loss_kw, converged, violations, switches, reward, voltages, taps)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertEvent = `INSERT INTO control_events
(recorded_at, episode, step, severity, regulator, old_tap, new_tap, reason, detail)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func stepArgs(r root.StepRecord) ([]interface{}, error) {
	voltages, err := json.Marshal(r.Voltages)
	if err != nil {
		return nil, err
	}
	taps, err := json.Marshal(r.Taps)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		r.Episode.String(), r.Mode, r.Day, r.Step, r.TotalPowerKW, r.TotalLossKW,
		r.Converged, r.Violations, r.Switches, r.Reward, string(voltages), string(taps),
	}, nil
}

func eventArgs(e control.Event, at time.Time) []interface{} {
	var episode interface{}
	if e.Episode != uuid.Nil {
		episode = e.Episode.String()
	}
	return []interface{}{at, episode, e.Step, e.Severity.String(), e.Regulator, e.OldTap, e.NewTap, e.Reason, e.Detail}
}

func (h Handler) write(db *sql.DB, m msg.Msg) error {
	var query string
	var args []interface{}
	switch p := m.Payload().(type) {
	case root.StepRecord:
		a, err := stepArgs(p)
		if err != nil {
			return err
		}
		query, args = insertStep, a
	case control.Event:
		query, args = insertEvent, eventArgs(p, time.Now())
	default:
		return fmt.Errorf("sqldb: unexpected %s payload %T", m.Topic(), p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_, err := db.ExecContext(ctx, rebind(h.config.Driver, query), args...)
	return err
}

// Process opens the database, creates the tables and records until Stop.
func (h Handler) Process() error {
	db, err := h.DB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := initDBTables(db); err != nil {
		return err
	}
	log.Printf("[SQL] Process Started (%s)", h.config.Driver)

loop:
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				break loop
			}
			if err := h.write(db, m); err != nil {
				log.Printf("[SQL] error %s update db", err)
			}

		case <-h.stop:
			break loop
		}
	}
	log.Println("[SQL] Process Shutdown")
	return nil
}

func initDBTables(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS step_records(
			episode VARCHAR(36), mode VARCHAR(16), day INT, step INT,
			power_kw DOUBLE PRECISION, loss_kw DOUBLE PRECISION, converged BOOLEAN,
			violations INT, switches INT, reward DOUBLE PRECISION,
			voltages TEXT, taps TEXT, PRIMARY KEY (episode, step))`,
		`CREATE TABLE IF NOT EXISTS control_events(
			recorded_at TIMESTAMP, episode VARCHAR(36), step INT, severity VARCHAR(16),
			regulator VARCHAR(64), old_tap INT, new_tap INT, reason VARCHAR(32), detail TEXT)`,
	}
	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
