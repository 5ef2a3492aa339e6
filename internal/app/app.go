// Package app wires the process-wide components from configuration. The
// server and the operator CLI share it.
package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-totp-chat/internal/ai"
	"github.com/weiawesome/wes-totp-chat/internal/cache"
	"github.com/weiawesome/wes-totp-chat/internal/codes"
	"github.com/weiawesome/wes-totp-chat/internal/config"
	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
	"github.com/weiawesome/wes-totp-chat/internal/idgen"
	"github.com/weiawesome/wes-totp-chat/internal/presence"
	"github.com/weiawesome/wes-totp-chat/internal/repository"
	"github.com/weiawesome/wes-totp-chat/internal/secret"
	"github.com/weiawesome/wes-totp-chat/internal/service"
	"github.com/weiawesome/wes-totp-chat/internal/totp"
	"github.com/weiawesome/wes-totp-chat/pkg/database"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
	"github.com/weiawesome/wes-totp-chat/pkg/pubsub"
)

// App holds the wired components.
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Codes  cache.CodeCache
	Bus    pubsub.PubSub
	Hub    *hub.Hub

	RoomRepo repository.RoomRepository
	AiRepo   repository.AiRepository

	Rooms       service.RoomService
	Chat        service.ChatService
	Sessions    service.AiSessionService
	Coordinator *ai.Coordinator
}

// New opens the stores and builds the services. A bad master key fails here,
// before anything is served.
func New(cfg *config.Config) (*App, error) {
	cipher, err := secret.StaticKeySource(cfg.Secret.MasterKeyB64).Cipher()
	if err != nil {
		return nil, err
	}

	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.AutoMigrate(db, domain.Models()...); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisCfg := cache.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	codeCache, err := cache.New(cache.Config{
		Driver:     cfg.Cache.Driver,
		Prefix:     cfg.Cache.Prefix,
		MemoryPath: cfg.Cache.MemoryPath,
		Redis:      redisCfg,
	})
	if err != nil {
		database.Close(db)
		return nil, fmt.Errorf("open code cache: %w", err)
	}

	bus, err := pubsub.NewPubSub(pubsub.Config{
		Driver: cfg.PubSub.Driver,
		Redis: pubsub.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
	})
	if err != nil {
		codeCache.Close()
		database.Close(db)
		return nil, fmt.Errorf("open event bus: %w", err)
	}

	tracker, err := presence.NewDebounceTracker(cfg.Chat.JoinDebounce, cfg.Chat.PresenceCapacity, nil)
	if err != nil {
		bus.Close()
		codeCache.Close()
		database.Close(db)
		return nil, err
	}

	h := hub.NewHub(hub.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
		WriteWait:      cfg.WebSocket.WriteWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
	})

	engine := totp.NewEngine(totp.Config{
		Period: cfg.Totp.Period,
		Skew:   cfg.Totp.Skew,
	})
	lookup := codes.NewLookup(engine, codeCache, cfg.Cache.CodeTTL, nil)
	ids := idgen.NewULIDGenerator(nil)

	roomRepo := repository.NewGormRoomRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)
	aiRepo := repository.NewGormAiRepository(db)

	provider := ai.NewProvider(ai.OpenAIConfig{
		APIKey:      cfg.AI.APIKey,
		BaseURL:     cfg.AI.BaseURL,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
	})
	if _, disabled := provider.(ai.DisabledProvider); disabled {
		l := log.L()
		l.Warn().Msg("no ai api key configured, ai sessions will answer with errors")
	}

	return &App{
		Config:   cfg,
		DB:       db,
		Codes:    codeCache,
		Bus:      bus,
		Hub:      h,
		RoomRepo: roomRepo,
		AiRepo:   aiRepo,
		Rooms: service.NewRoomService(roomRepo, messageRepo, cipher, lookup, tracker, bus, service.RoomConfig{
			HistoryLimit: cfg.Chat.HistoryLimit,
			MaxPageSize:  cfg.Chat.MaxPageSize,
		}),
		Chat: service.NewChatService(h, roomRepo, messageRepo, ids, tracker, service.ChatConfig{
			MaxMessageLength: cfg.Chat.MaxMessageLength,
			HistoryLimit:     cfg.Chat.HistoryLimit,
			MaxPageSize:      cfg.Chat.MaxPageSize,
		}, nil),
		Sessions: service.NewAiSessionService(roomRepo, aiRepo, bus, service.AiSessionConfig{
			IdleTimeout:     cfg.AI.SessionIdleTimeout,
			HistoryPageSize: cfg.AI.HistoryPageSize,
		}, nil),
		Coordinator: ai.NewCoordinator(h, aiRepo, provider, ids, ai.Config{
			Persona:          cfg.AI.Persona,
			Username:         cfg.AI.Username,
			ContextMessages:  cfg.AI.ContextMessages,
			Timeout:          cfg.AI.Timeout,
			MaxMessageLength: cfg.AI.MaxMessageLength,
			HistoryPageSize:  cfg.AI.HistoryPageSize,
		}, nil),
	}, nil
}

// Close waits for pending AI replies and releases the stores.
func (a *App) Close() error {
	a.Coordinator.Wait()
	a.Bus.Close()
	a.Codes.Close()
	return database.Close(a.DB)
}
