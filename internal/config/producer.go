package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultInvestEndpoint  = "https://invest-public-api.tinkoff.ru:443"
	defaultProducerName    = "lobstream-producer"
	defaultInstrumentsFile = "cmd/producer/instruments.json"
	defaultOrderBookDepth  = 20
)

// ProducerConfig drives the T-Invest to RabbitMQ relay.
type ProducerConfig struct {
	Log            LogConfig
	Invest         InvestConfig
	RabbitMQ       RabbitMQConfig
	Instruments    []string
	OrderBookDepth int
}

type InvestConfig struct {
	Token              string
	Endpoint           string
	AppName            string
	InsecureSkipVerify bool
}

// LoadProducer reads the relay settings from the environment. Instruments
// come from INVEST_INSTRUMENTS or, when unset, from the JSON file named by
// INSTRUMENTS_FILE.
func LoadProducer() (*ProducerConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	cfg := &ProducerConfig{
		Log: LogConfig{
			Level:  getString("LOG_LEVEL", defaultLogLevel),
			Format: getString("LOG_FORMAT", defaultLogFormat),
		},
		Invest: InvestConfig{
			Token:    getString("INVEST_TOKEN", ""),
			Endpoint: getString("INVEST_ENDPOINT", defaultInvestEndpoint),
			AppName:  getString("INVEST_APP_NAME", defaultProducerName),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getString("RABBITMQ_URL", defaultRabbitURL),
			RecordsExchange: getString("RABBITMQ_RECORDS_EXCHANGE", defaultRecordsExchange),
		},
		Instruments: getCSV("INVEST_INSTRUMENTS", nil),
	}
	cfg.Invest.InsecureSkipVerify, errs = getBoolInto("INVEST_INSECURE_SKIP_VERIFY", false, errs)
	cfg.OrderBookDepth, errs = getIntInto("ORDERBOOK_DEPTH", defaultOrderBookDepth, errs)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if len(cfg.Instruments) == 0 {
		instruments, err := readInstruments(getString("INSTRUMENTS_FILE", defaultInstrumentsFile))
		if err != nil {
			return nil, err
		}
		cfg.Instruments = instruments
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ProducerConfig) Validate() error {
	var errs []error
	if c.Invest.Token == "" {
		errs = append(errs, errors.New("INVEST_TOKEN is required"))
	}
	if len(c.Instruments) == 0 {
		errs = append(errs, errors.New("instruments list is empty"))
	}
	if c.OrderBookDepth <= 0 {
		errs = append(errs, errors.New("ORDERBOOK_DEPTH must be positive"))
	}
	if c.RabbitMQ.RecordsExchange == "" {
		errs = append(errs, errors.New("RABBITMQ_RECORDS_EXCHANGE is required"))
	}
	return errors.Join(errs...)
}

func readInstruments(path string) ([]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read instruments file: %w", err)
	}
	var payload struct {
		Instruments []string `json:"instruments"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse instruments file: %w", err)
	}
	instruments := make([]string, 0, len(payload.Instruments))
	for _, id := range payload.Instruments {
		if id = strings.TrimSpace(id); id != "" {
			instruments = append(instruments, id)
		}
	}
	return instruments, nil
}

func getBoolInto(key string, fallback bool, errs []error) (bool, []error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, errs
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, append(errs, fmt.Errorf("convert %s value %q to bool: %w", key, value, err))
	}
	return parsed, errs
}
