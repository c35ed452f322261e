package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/example/ehailing/internal/models"
)

const rideChannel = "ride_changes"

const rideColumns = `id, user_id, rider_name, pickup_text, destination_text,
	pickup_lat, pickup_lng, destination_lat, destination_lng, distance_km,
	estimated_fare_zar, ride_type, status, driver_preferred, driver_id,
	driver_name, driver_car, driver_ride_type, payment_status, created_at, updated_at`

type PostgresStore struct {
	db       *sql.DB
	dsn      string
	logger   *slog.Logger
	mu       sync.Mutex
	watchers map[int]func(*models.Ride)
	nextID   int
	listener *pq.Listener
}

func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, dsn: dsn, logger: logger, watchers: make(map[int]func(*models.Ride))}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error {
	p.mu.Lock()
	l := p.listener
	p.listener = nil
	p.mu.Unlock()
	if l != nil {
		_ = l.Close()
	}
	return p.db.Close()
}

// Migrate executes a schema script.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (*models.Ride, error) {
	var r models.Ride
	var preferred, driverID, driverName, driverCar, driverRideType sql.NullString
	var rideType, status, paymentStatus string
	err := s.Scan(&r.ID, &r.UserID, &r.RiderName, &r.PickupText, &r.DestinationText,
		&r.PickupLat, &r.PickupLng, &r.DestinationLat, &r.DestinationLng, &r.DistanceKm,
		&r.EstimatedFareZAR, &rideType, &status, &preferred, &driverID,
		&driverName, &driverCar, &driverRideType, &paymentStatus, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.RideType = models.RideType(rideType)
	r.Status = models.RideStatus(status)
	r.Payment.Status = models.PaymentStatus(paymentStatus)
	if preferred.Valid {
		v := preferred.String
		r.DriverPreferred = &v
	}
	if driverID.Valid {
		r.Driver = &models.DriverSnapshot{
			ID:       driverID.String,
			Name:     driverName.String,
			Car:      driverCar.String,
			RideType: models.RideType(driverRideType.String),
		}
	}
	return &r, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func driverArgs(d *models.DriverSnapshot) (id, name, car, rideType sql.NullString) {
	if d == nil {
		return
	}
	return sql.NullString{String: d.ID, Valid: true},
		sql.NullString{String: d.Name, Valid: true},
		sql.NullString{String: d.Car, Valid: true},
		sql.NullString{String: string(d.RideType), Valid: true}
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	dID, dName, dCar, dType := driverArgs(r.Driver)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		r.ID, r.UserID, r.RiderName, r.PickupText, r.DestinationText,
		r.PickupLat, r.PickupLng, r.DestinationLat, r.DestinationLng, r.DistanceKm,
		r.EstimatedFareZAR, string(r.RideType), string(r.Status), nullable(r.DriverPreferred), dID,
		dName, dCar, dType, string(r.Payment.Status), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, rideChannel, r.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// UpdateRide locks the ride row, applies fn, and writes the ride plus any
// driver occupancy change in one transaction.
func (p *PostgresStore) UpdateRide(ctx context.Context, id string, fn Mutation) (*models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	r, err := scanRide(tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	occ, err := fn(r)
	if err != nil {
		return nil, err
	}
	if occ != nil {
		if err := setOccupancy(ctx, tx, *occ, r.UpdatedAt); err != nil {
			return nil, err
		}
	}
	dID, dName, dCar, dType := driverArgs(r.Driver)
	_, err = tx.ExecContext(ctx, `UPDATE rides SET status=$1, driver_preferred=$2, driver_id=$3,
		driver_name=$4, driver_car=$5, driver_ride_type=$6, payment_status=$7, updated_at=$8 WHERE id=$9`,
		string(r.Status), nullable(r.DriverPreferred), dID, dName, dCar, dType,
		string(r.Payment.Status), r.UpdatedAt, r.ID)
	if err != nil {
		return nil, fmt.Errorf("update ride: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, rideChannel, r.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

func setOccupancy(ctx context.Context, tx *sql.Tx, occ Occupancy, at time.Time) error {
	var occupied bool
	err := tx.QueryRowContext(ctx, `SELECT occupied FROM drivers WHERE uid=$1 FOR UPDATE`, occ.DriverID).Scan(&occupied)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `INSERT INTO drivers(uid, occupied, updated_at) VALUES($1,$2,$3)`, occ.DriverID, occ.Occupied, at)
		return err
	case err != nil:
		return err
	}
	if occ.Occupied && occupied {
		return ErrDriverBusy
	}
	_, err = tx.ExecContext(ctx, `UPDATE drivers SET occupied=$1, updated_at=$2 WHERE uid=$3`, occ.Occupied, at, occ.DriverID)
	return err
}

func (p *PostgresStore) queryRides(ctx context.Context, q string, args ...any) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RecentRidesByUser(ctx context.Context, userID string, limit int) ([]*models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
}

func (p *PostgresStore) RidesForDriver(ctx context.Context, driverID string, limit int) ([]*models.Ride, error) {
	statuses := make([]string, 0, 4)
	for _, s := range driverRideStatuses() {
		statuses = append(statuses, string(s))
	}
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE status = ANY($1) AND ((status=$2 AND driver_preferred=$3) OR driver_id=$3)
		ORDER BY created_at DESC LIMIT $4`,
		pq.Array(statuses), string(models.StatusDriverRequested), driverID, limit)
}

// Subscribe starts the LISTEN connection on first use and fans every
// committed ride change out to fn.
func (p *PostgresStore) Subscribe(fn func(*models.Ride)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = fn
	if p.listener == nil {
		p.listener = p.startListener()
	}
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}

func (p *PostgresStore) startListener() *pq.Listener {
	l := pq.NewListener(p.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.logger.Warn("ride listener event", "event", int(ev), "error", err)
		}
	})
	if err := l.Listen(rideChannel); err != nil {
		p.logger.Error("listen ride_changes failed", "error", err)
	}
	go func() {
		for n := range l.Notify {
			// nil after a reconnect; changes during the gap are not replayed
			if n == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r, err := p.GetRide(ctx, n.Extra)
			cancel()
			if err != nil {
				p.logger.Warn("ride change lookup failed", "ride_id", n.Extra, "error", err)
				continue
			}
			p.mu.Lock()
			fns := make([]func(*models.Ride), 0, len(p.watchers))
			for _, fn := range p.watchers {
				fns = append(fns, fn)
			}
			p.mu.Unlock()
			notify(fns, r)
		}
	}()
	return l
}

func (p *PostgresStore) GetDriver(ctx context.Context, uid string) (*models.DriverProfile, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT uid, approved, online, occupied, ride_type, full_name, car, push_token, updated_at FROM drivers WHERE uid=$1`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func scanDriver(s scanner) (*models.DriverProfile, error) {
	var d models.DriverProfile
	var rideType string
	if err := s.Scan(&d.UID, &d.Approved, &d.Online, &d.Occupied, &rideType, &d.Profile.FullName, &d.Profile.Car, &d.PushToken, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.RideType = models.RideType(rideType)
	return &d, nil
}

func (p *PostgresStore) UpdateDriver(ctx context.Context, uid string, fn func(p *models.DriverProfile) error) (*models.DriverProfile, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	d, err := scanDriver(tx.QueryRowContext(ctx, `SELECT uid, approved, online, occupied, ride_type, full_name, car, push_token, updated_at FROM drivers WHERE uid=$1 FOR UPDATE`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		d, err = &models.DriverProfile{UID: uid}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	d.UID = uid
	_, err = tx.ExecContext(ctx, `INSERT INTO drivers(uid, approved, online, occupied, ride_type, full_name, car, push_token, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (uid) DO UPDATE SET approved=EXCLUDED.approved, online=EXCLUDED.online, occupied=EXCLUDED.occupied,
		ride_type=EXCLUDED.ride_type, full_name=EXCLUDED.full_name, car=EXCLUDED.car, push_token=EXCLUDED.push_token,
		updated_at=EXCLUDED.updated_at`,
		d.UID, d.Approved, d.Online, d.Occupied, string(d.RideType), d.Profile.FullName, d.Profile.Car, d.PushToken, d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert driver: %w", err)
	}
	return d, tx.Commit()
}

func (p *PostgresStore) SaveApplication(ctx context.Context, a *models.DriverApplication) error {
	docs, err := json.Marshal(a.Documents)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO driver_applications(id, uid, full_name, car, ride_type, documents, status, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, documents=EXCLUDED.documents`,
		a.ID, a.UID, a.FullName, a.Car, string(a.RideType), docs, string(a.Status), a.CreatedAt)
	return err
}

func (p *PostgresStore) LatestApplication(ctx context.Context, uid string) (*models.DriverApplication, error) {
	var (
		a        models.DriverApplication
		docs     []byte
		rideType string
		status   string
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, uid, full_name, car, ride_type, documents, status, created_at
		FROM driver_applications WHERE uid=$1 ORDER BY created_at DESC LIMIT 1`, uid).
		Scan(&a.ID, &a.UID, &a.FullName, &a.Car, &rideType, &docs, &status, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.RideType = models.RideType(rideType)
	a.Status = models.ApplicationStatus(status)
	if err := json.Unmarshal(docs, &a.Documents); err != nil {
		return nil, err
	}
	return &a, nil
}
