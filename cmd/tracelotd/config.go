package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the daemon configuration, loaded from the environment.
type Config struct {
	RPCURL          string        `env:"TRACELOT_RPC_URL" envDefault:"http://127.0.0.1:8545"`
	ChainID         int64         `env:"TRACELOT_CHAIN_ID" envDefault:"1337"`
	RegistryAddress string        `env:"TRACELOT_REGISTRY_ADDRESS,required"`
	EscrowAddress   string        `env:"TRACELOT_ESCROW_ADDRESS,required"`
	PrivateKey      string        `env:"TRACELOT_PRIVATE_KEY,required,unset"`
	Listen          string        `env:"TRACELOT_LISTEN" envDefault:":8080"`
	LotWindow       int           `env:"TRACELOT_LOT_WINDOW" envDefault:"10"`
	PaymentWindow   int           `env:"TRACELOT_PAYMENT_WINDOW" envDefault:"50"`
	ConfirmWait     time.Duration `env:"TRACELOT_CONFIRM_WAIT" envDefault:"120s"`
	LogFile         string        `env:"TRACELOT_LOG_FILE"`
	LogMaxSizeMB    int           `env:"TRACELOT_LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups   int           `env:"TRACELOT_LOG_MAX_BACKUPS" envDefault:"5"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
