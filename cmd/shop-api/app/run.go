package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/dibanez/e-commerce/configs"
	"github.com/dibanez/e-commerce/internal/adapter/cache"
	"github.com/dibanez/e-commerce/internal/adapter/http"
	"github.com/dibanez/e-commerce/internal/adapter/http/middleware"
	"github.com/dibanez/e-commerce/internal/adapter/kafka"
	"github.com/dibanez/e-commerce/internal/adapter/queue"
	"github.com/dibanez/e-commerce/internal/adapter/repo"
	domain "github.com/dibanez/e-commerce/internal/entity"
	"github.com/dibanez/e-commerce/internal/logging"
	"github.com/dibanez/e-commerce/internal/payment"
	"github.com/dibanez/e-commerce/internal/usecase"
)

type App struct {
	Router *gin.Engine
}

func InitWithConfig(cfg configs.Config) (*App, func(), error) {
	logging.Init(cfg.App.Name, "./logs/app.log")
	log := logging.New("app")

	// init database
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return nil, nil, err
	}
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		return nil, nil, err
	}
	cancel()

	log.Info("shop-api: starting up")

	// init redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, nil, err
	}

	// init rabbitmq
	conn, err := amqp091.Dial(cfg.Rabbit.URL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	// payment providers
	registry, err := payment.Build(cfg.Payments.Providers, cfg.Payments.ProviderConfig)
	if err != nil {
		return nil, nil, err
	}

	// infra
	orderRepo := repo.NewMySQLOrderRepo(db)
	paymentRepo := repo.NewMySQLPaymentRepo(db)
	numbers := repo.NewMySQLNumberSource(db)
	idem := cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
	statusCache := cache.NewRedisCache(rdb, cfg.Cache.StatusTTL)
	producer, err := queue.NewRabbitProducer(ch, cfg.Rabbit.Exchange, cfg.Rabbit.RoutingKey)
	if err != nil {
		return nil, nil, err
	}

	// usecases
	flow := usecase.NewPaymentFlow(orderRepo, paymentRepo, registry, producer,
		statusCache, cfg.Payments.CallTimeout, logging.New("payment"))
	checkout := usecase.NewCheckout(orderRepo, numbers, idem, flow,
		shippingPolicy(cfg), taxPolicy(cfg), cfg.Orders.NumberPrefix, logging.New("checkout"))

	// broker-delivered provider notifications
	if len(cfg.Kafka.Brokers) > 0 {
		if err := setupKafkaListener(cfg, flow); err != nil {
			return nil, nil, err
		}
	}

	// init handlers + routers + middleware
	ch2 := http.NewCheckoutHandler(checkout, orderRepo, statusCache)
	ph := http.NewPaymentHandler(flow, registry)
	ah := http.NewAdminPaymentHandler(flow)
	th := http.NewTokenHandler(cfg)
	auth := middleware.NewAuthz(cfg)
	router := http.NewRouter(ch2, ph, ah, th, auth)

	cleanup := func() {
		_ = ch.Close()
		_ = conn.Close()
		_ = db.Close()
		_ = rdb.Close()
	}

	return &App{Router: router}, cleanup, nil
}

func shippingPolicy(cfg configs.Config) domain.ShippingPolicy {
	rate, _ := decimal.NewFromString(cfg.Orders.ShippingFlatRate)
	free, _ := decimal.NewFromString(cfg.Orders.FreeShippingOver)
	return domain.FlatRateShipping{Rate: rate, FreeThreshold: free}
}

func taxPolicy(cfg configs.Config) domain.TaxPolicy {
	rate, _ := decimal.NewFromString(cfg.Orders.TaxRate)
	return domain.FlatRateTax{Rate: rate}
}

func setupKafkaListener(cfg configs.Config, flow *usecase.PaymentFlow) error {
	grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup)
	if err != nil {
		return err
	}

	log := logging.New("kafka")
	h := kafka.NewPaymentNotificationHandler(flow)
	consumer := kafka.NewConsumer(grp, []string{cfg.Kafka.TopicNotifications}, h.Handle, log)

	// The HTTP webhook path stays authoritative, so a dying consumer
	// degrades redundancy rather than correctness.
	go func() {
		if err := consumer.Start(context.Background()); err != nil {
			log.Error("payment notification consumer stopped", "error", err)
		}
	}()
	return nil
}
