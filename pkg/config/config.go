package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUrl                string
	RedisURL             string
	RedisPassword        string
	GoogleClientID       string
	GoogleClientSecret   string
	JWTSecret            string
	PaystackSecret       string
	PaystackChannels     []string
	MinTransactionAmount int64
	MaxActiveKeys        int
	Port                 string
	Host                 string
	Env                  string
	AllowedOrigins       []string
}

func LoadConfig() Config {
	godotenv.Load()

	minAmount, err := strconv.ParseInt(getEnv("MIN_TRANSACTION_AMOUNT"), 10, 64)
	if err != nil {
		panic("MIN_TRANSACTION_AMOUNT must be a valid integer")
	}

	maxKeys := 5
	if v := os.Getenv("MAX_ACTIVE_KEYS"); v != "" {
		maxKeys, err = strconv.Atoi(v)
		if err != nil {
			panic("MAX_ACTIVE_KEYS must be a valid integer")
		}
	}

	return Config{
		DBUrl:                getEnv("DATABASE_URL"),
		RedisURL:             getEnv("REDIS_URL"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		GoogleClientID:       getEnv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:   getEnv("GOOGLE_CLIENT_SECRET"),
		JWTSecret:            getEnv("JWT_SECRET"),
		PaystackSecret:       getEnv("PAYSTACK_SECRET"),
		PaystackChannels:     strings.Split(getEnv("PAYSTACK_CHANNELS"), ","),
		MinTransactionAmount: minAmount,
		MaxActiveKeys:        maxKeys,
		Port:                 getEnv("PORT"),
		Host:                 getEnv("HOST"),
		Env:                  getEnv("ENV"),
		AllowedOrigins:       strings.Split(getEnv("ALLOWED_ORIGINS"), ","),
	}
}

func getEnv(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	panic(fmt.Sprintf("%s is required", key))
}
