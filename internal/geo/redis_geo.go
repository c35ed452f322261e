package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/example/ehailing/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey  = "drivers:online"
	changeChannel = "drivers_live"
)

// RedisGeo implements Presence using Redis GEO commands, a hash per driver
// and a pub/sub channel for change fan-out.
type RedisGeo struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

func NewRedisGeo(addr, password, key string, logger *slog.Logger) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisGeoFromClient(c, key, logger)
}

func NewRedisGeoFromClient(c *redis.Client, key string, logger *slog.Logger) *RedisGeo {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGeo{client: c, key: key, logger: logger}
}

func (r *RedisGeo) Client() *redis.Client { return r.client }

// LiveKey is the hash holding a driver's presence fields.
func LiveKey(uid string) string { return "driver:live:" + uid }

// PresenceFields flattens p into the hash layout shared with the location consumer.
func PresenceFields(p models.Presence) map[string]interface{} {
	return map[string]interface{}{
		"lat":         strconv.FormatFloat(p.Lat, 'f', -1, 64),
		"lng":         strconv.FormatFloat(p.Lng, 'f', -1, 64),
		"heading":     strconv.FormatFloat(p.Heading, 'f', -1, 64),
		"online":      strconv.FormatBool(p.Online),
		"occupied":    strconv.FormatBool(p.Occupied),
		"rideType":    string(p.RideType),
		"displayName": p.DisplayName,
		"car":         p.Car,
		"updatedAt":   p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func presenceFromFields(uid string, m map[string]string) models.Presence {
	p := models.Presence{UID: uid, RideType: models.RideType(m["rideType"]), DisplayName: m["displayName"], Car: m["car"]}
	p.Lat, _ = strconv.ParseFloat(m["lat"], 64)
	p.Lng, _ = strconv.ParseFloat(m["lng"], 64)
	p.Heading, _ = strconv.ParseFloat(m["heading"], 64)
	p.Online = m["online"] == "true"
	p.Occupied = m["occupied"] == "true"
	if ts, err := time.Parse(time.RFC3339Nano, m["updatedAt"]); err == nil {
		p.UpdatedAt = ts
	}
	return p
}

func (r *RedisGeo) Upsert(ctx context.Context, p models.Presence) error {
	pipe := r.client.TxPipeline()
	pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Lng, Latitude: p.Lat, Name: p.UID})
	pipe.HSet(ctx, LiveKey(p.UID), PresenceFields(p))
	if p.Online {
		pipe.SAdd(ctx, onlineSetKey, p.UID)
	} else {
		pipe.SRem(ctx, onlineSetKey, p.UID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis presence upsert %s: %w", p.UID, err)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, changeChannel, b).Err(); err != nil {
		r.logger.Warn("presence publish failed", "driver_id", p.UID, "error", err)
	}
	return nil
}

func (r *RedisGeo) Get(ctx context.Context, uid string) (models.Presence, error) {
	m, err := r.client.HGetAll(ctx, LiveKey(uid)).Result()
	if err != nil {
		return models.Presence{}, err
	}
	if len(m) == 0 {
		return models.Presence{}, ErrUnknownDriver
	}
	return presenceFromFields(uid, m), nil
}

func (r *RedisGeo) Online(ctx context.Context) ([]models.Presence, error) {
	ids, err := r.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Presence, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		if p.Online {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *RedisGeo) Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Presence, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Presence, 0, len(res))
	for _, g := range res {
		p, err := r.Get(ctx, g.Name)
		if err != nil || !p.Online {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisGeo) Subscribe(fn func(models.Presence)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ps := r.client.Subscribe(ctx, changeChannel)
	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p models.Presence
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Warn("invalid presence message", "error", err)
					continue
				}
				fn(p)
			}
		}
	}()
	return cancel
}
