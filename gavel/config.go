package gavel

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hammerlane/gavel/gavel/auction"
	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	cfg := DefaultConfig()
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: slog.LevelInfo},
		Auction: AuctionConfig{
			MinIncrement:              auction.DefaultMinIncrement,
			PreBiddingSeconds:         30,
			InactivityWindowSeconds:   60,
			GoingOnceSeconds:          15,
			GoingTwiceSeconds:         10,
			FinalCallSeconds:          5,
			EligibilityTimeoutSeconds: 2,
			NotifyTimeoutSeconds:      3,
			HistorySize:               512,
		},
		Server: ServerConfig{Addr: ":8480"},
	}
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	DB      DBConfig      `toml:"db"`
	Auction AuctionConfig `toml:"auction"`
	Server  ServerConfig  `toml:"server"`
}

type LogConfig struct {
	Level slog.Level `toml:"level"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuctionConfig struct {
	MinIncrement              int64 `toml:"min_increment"`
	PreBiddingSeconds         int   `toml:"pre_bidding_seconds"`
	InactivityWindowSeconds   int   `toml:"inactivity_window_seconds"`
	GoingOnceSeconds          int   `toml:"going_once_seconds"`
	GoingTwiceSeconds         int   `toml:"going_twice_seconds"`
	FinalCallSeconds          int   `toml:"final_call_seconds"`
	EligibilityTimeoutSeconds int   `toml:"eligibility_timeout_seconds"`
	NotifyTimeoutSeconds      int   `toml:"notify_timeout_seconds"`
	HistorySize               int   `toml:"history_size"`
	AutoAdvance               bool  `toml:"auto_advance"`
}

func (c AuctionConfig) PhaseConfig() auction.PhaseConfig {
	return auction.PhaseConfig{
		PreBidding:       time.Duration(c.PreBiddingSeconds) * time.Second,
		InactivityWindow: time.Duration(c.InactivityWindowSeconds) * time.Second,
		GoingOnce:        time.Duration(c.GoingOnceSeconds) * time.Second,
		GoingTwice:       time.Duration(c.GoingTwiceSeconds) * time.Second,
		FinalCall:        time.Duration(c.FinalCallSeconds) * time.Second,
	}
}

func (c AuctionConfig) EligibilityTimeout() time.Duration {
	return time.Duration(c.EligibilityTimeoutSeconds) * time.Second
}

func (c AuctionConfig) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}
