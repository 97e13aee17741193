package services

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the matchmaking core. All timeouts are
// wall-clock: sweeps re-derive them from persisted deadlines, never from
// in-memory timers.
type Config struct {
	PairingInterval       time.Duration // pairing engine tick cadence
	ExpirySweepInterval   time.Duration // queue expiry sweep cadence
	DeadlineSweepInterval time.Duration // lifecycle + arbitration sweep cadence

	MaxWait        time.Duration // queue maxWaitDuration
	ReadyGrace     time.Duration // room_assigned → presumed start
	PlayWindow     time.Duration // in_progress → awaiting_result
	ResultWindow   time.Duration // awaiting_result → forced resolution
	LoneClaimGrace time.Duration // wait before a lone claim becomes authoritative

	RoomRetries      int           // allocation attempts before cancelling
	RoomRetryBackoff time.Duration // initial backoff, doubled per attempt

	Rake float64 // platform cut of the prize pool
}

// LoadConfig reads the environment with sane defaults.
func LoadConfig() Config {
	return Config{
		PairingInterval:       envDuration("PAIRING_INTERVAL", 2*time.Second),
		ExpirySweepInterval:   envDuration("EXPIRY_SWEEP_INTERVAL", 5*time.Second),
		DeadlineSweepInterval: envDuration("DEADLINE_SWEEP_INTERVAL", 5*time.Second),
		MaxWait:               envDuration("QUEUE_MAX_WAIT", 5*time.Minute),
		ReadyGrace:            envDuration("READY_GRACE", 5*time.Minute),
		PlayWindow:            envDuration("PLAY_WINDOW", 60*time.Minute),
		ResultWindow:          envDuration("RESULT_WINDOW", 24*time.Hour),
		LoneClaimGrace:        envDuration("LONE_CLAIM_GRACE", 12*time.Hour),
		RoomRetries:           envInt("ROOM_RETRIES", 3),
		RoomRetryBackoff:      envDuration("ROOM_RETRY_BACKOFF", 500*time.Millisecond),
		Rake:                  envFloat("PRIZE_RAKE", 0.10),
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, v, def)
		return def
	}
	return d
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %v", key, v, def)
		return def
	}
	return f
}
