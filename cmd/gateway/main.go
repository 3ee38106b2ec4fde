package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocpp-csms/core/internal/config"
	"github.com/ocpp-csms/core/internal/domain/validation"
	"github.com/ocpp-csms/core/internal/events/bus"
	"github.com/ocpp-csms/core/internal/events/sinks/kafka"
	"github.com/ocpp-csms/core/internal/events/sinks/kafkacmd"
	"github.com/ocpp-csms/core/internal/logger"
	"github.com/ocpp-csms/core/internal/message"
	"github.com/ocpp-csms/core/internal/metrics"
	"github.com/ocpp-csms/core/internal/ocpp/adapter"
	"github.com/ocpp-csms/core/internal/ocpp/dispatcher"
	"github.com/ocpp-csms/core/internal/ocpp/frame"
	"github.com/ocpp-csms/core/internal/ocpp/handlers"
	"github.com/ocpp-csms/core/internal/ocpp/liveness"
	"github.com/ocpp-csms/core/internal/ocpp/ocpperrors"
	"github.com/ocpp-csms/core/internal/ocpp/statemachine"
	"github.com/ocpp-csms/core/internal/registry"
	"github.com/ocpp-csms/core/internal/registry/routing"
	"github.com/ocpp-csms/core/internal/transport/server"
	"github.com/ocpp-csms/core/internal/transport/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Async:  cfg.Log.Async,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Info("Logger initialized")

	// 3. 事件总线（在会话注册表之前初始化，registry/Connection 在连接建立与
	//    关闭时都要发布 ChargePointConnected/Disconnected）
	eventBus := bus.New(bus.Config{QueueCapacity: cfg.OCPP.EventSubscriberQueueCapacity}, log)
	log.Info("Event bus initialized")

	// 4. 会话注册表：本 Pod 内 chargePointId -> Connection 的唯一权威
	sessionRegistry := registry.New(registry.Config{
		ShardCount:        cfg.OCPP.RegistryShardCount,
		ReconnectDebounce: cfg.OCPP.ReconnectDebounce,
	}, log, eventBus)
	log.Info("Session registry initialized")

	// 5. 路由表：跨 Pod 的 chargePointId -> podID，供其他 Pod 转发 send_command
	routingTable, err := routing.New(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to initialize routing table: %v", err)
	}
	log.Info("Routing table initialized")

	// 6. 协议状态机（未接入持久化仓储时退化为纯内存模式，见 DESIGN.md）
	machine := statemachine.New(statemachine.Deps{
		Bus:    eventBus,
		Logger: log,
	})
	log.Info("Protocol state machine initialized")

	// 7. 载荷校验器 + OCPP 1.6J / 2.0.1 处理器集
	validator := validation.NewValidator()
	handlerConfig := handlers.DefaultConfig()
	handlerConfig.HeartbeatInterval = cfg.OCPP.HeartbeatInterval
	v16Handlers := handlers.NewV16HandlerSet(machine, validator, log, handlerConfig)
	v201Handlers := handlers.NewV201HandlerSet(machine, validator, log, handlerConfig)
	log.Info("OCPP 1.6J and 2.0.1 handler sets initialized")

	// 8. 协议适配器注册表：为已协商的子协议解析 {handler set} 组合
	adapterRegistry := adapter.New(adapter.Config{
		PermissiveSubprotocolFallback: cfg.OCPP.PermissiveSubprotocolFallback,
		FallbackVersion:               "ocpp1.6",
	})
	adapterRegistry.Register("ocpp1.6", v16Handlers)
	adapterRegistry.Register("ocpp2.0.1", v201Handlers)
	log.Infof("Protocol adapter registry initialized, subprotocols: %v", adapterRegistry.SupportedSubprotocols())

	// 9. 指令分发器：CS -> CP send_command 的 uniqueId 簿记
	cmdDispatcher := dispatcher.New(dispatcher.Config{
		DefaultTimeout: cfg.OCPP.CommandTimeout,
	}, func(chargePointID string) (dispatcher.Sender, bool) {
		conn, ok := sessionRegistry.Lookup(chargePointID)
		if !ok {
			return nil, false
		}
		sender, ok := conn.(dispatcher.Sender)
		return sender, ok
	}, log)
	cmdDispatcher.Start()
	log.Info("Command dispatcher started")

	// 10. 心跳存活监控：超过 heartbeat_interval * k_factor 未见帧则驱逐
	livenessMonitor := liveness.New(liveness.Config{
		HeartbeatInterval: cfg.OCPP.HeartbeatInterval,
		KFactor:           cfg.OCPP.LivenessKFactor,
		SweepInterval:     cfg.OCPP.LivenessSweepInterval,
	}, sessionRegistry, func(chargePointID string) {
		machine.MarkOffline(chargePointID)
	}, log)
	livenessMonitor.Start()
	log.Info("Liveness monitor started")

	// 11. Kafka 生产者/消费者，适配为事件总线的下游与上游
	producer, err := message.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.UpstreamTopic, cfg.PodID)
	if err != nil {
		log.Fatalf("Failed to initialize Kafka producer: %v", err)
	}
	kafkaSink := kafka.New(eventBus, "kafka-integration", producer, log)
	log.Info("Kafka event sink initialized")

	kafkaConsumer, err := message.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.DownstreamTopic, cfg.PodID, cfg.Kafka.PartitionNum, log)
	if err != nil {
		log.Fatalf("Failed to initialize Kafka consumer: %v", err)
	}
	cmdSink := kafkacmd.New(kafkaConsumer, cmdDispatcher, kafkacmd.Config{CommandTimeout: cfg.OCPP.CommandTimeout}, log)
	if err := cmdSink.Start(); err != nil {
		log.Fatalf("Failed to start Kafka command sink: %v", err)
	}
	log.Info("Kafka command sink started")

	// 12. 监控服务器
	metrics.RegisterMetrics()
	go startMetricsServer(cfg.GetMetricsAddr(), log)
	log.Infof("Metrics server starting on %s", cfg.GetMetricsAddr())

	// 13. 主 HTTP 服务器：WebSocket 升级 + 健康检查
	upgrader := websocket.Upgrader{
		ReadBufferSize:   cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		Subprotocols:     adapterRegistry.SupportedSubprotocols(),
		CheckOrigin: func(r *http.Request) bool {
			if !cfg.WebSocket.CheckOrigin {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range cfg.WebSocket.AllowedOrigins {
				if allowed == origin {
					return true
				}
			}
			return false
		},
	}

	connConfig := ws.Config{
		OutboundQueueCapacity: cfg.OCPP.OutboundQueueCapacity,
		MaxFrameBytes:         cfg.OCPP.MaxFrameBytes,
		WriteTimeout:          cfg.Server.WriteTimeout,
		PongWait:              cfg.WebSocket.PongTimeout,
		PingInterval:          cfg.WebSocket.PingInterval,
	}

	mux := http.NewServeMux()
	// A trailing slash makes the pattern match every /ocpp/{chargePointId} path.
	wsPattern := cfg.Server.WebSocketPath
	if n := len(wsPattern); n == 0 || wsPattern[n-1] != '/' {
		wsPattern += "/"
	}
	mux.HandleFunc(wsPattern, func(w http.ResponseWriter, r *http.Request) {
		chargePointID := extractChargePointID(r)
		if chargePointID == "" {
			http.Error(w, "missing charge point identity in path", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("websocket upgrade failed for %s: %v", chargePointID, err)
			return
		}

		bundle, ok := adapterRegistry.Resolve(conn.Subprotocol())
		if !ok {
			log.Warnf("rejecting %s: unsupported subprotocol %q", chargePointID, conn.Subprotocol())
			_ = conn.Close()
			return
		}

		var wsConn *ws.Connection
		wsConn = ws.New(conn, chargePointID, bundle.Version, connConfig, log, eventBus, func(cpID string, data []byte) {
			handleFrame(r.Context(), bundle, cmdDispatcher, wsConn, cpID, data, log)
		}, func(reason string) {
			sessionRegistry.Unregister(chargePointID, wsConn)
			cmdDispatcher.Disconnect(chargePointID)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = routingTable.Withdraw(ctx, chargePointID)
		})

		outcome := sessionRegistry.Register(wsConn)
		if outcome == registry.Debounced {
			// Close only the raw socket: wsConn's close hook would tear down the
			// dispatcher and routing state of the connection of record.
			_ = conn.Close()
			return
		}

		rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = routingTable.Announce(rctx, chargePointID, cfg.PodID, cfg.OCPP.LivenessSweepInterval*time.Duration(cfg.OCPP.LivenessKFactor+1))
		rcancel()

		wsConn.Serve()
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	tcpServer := server.New(&cfg.Server, mux, log)

	go func() {
		if err := tcpServer.Serve(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Main server failed: %v", err)
		}
	}()

	log.Info("Charge Point Gateway started successfully")

	// 14. 优雅停机，顺序如下：
	//   停止接受新连接 -> 停止存活监控 -> 注册表广播关闭 -> 停止分发器 -> 停止事件总线 -> 关闭 Kafka/Redis
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := tcpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Error shutting down HTTP server: %v", err)
	}

	livenessMonitor.Stop()
	log.Info("Liveness monitor stopped")

	sessionRegistry.CloseAll("server shutting down")
	log.Info("Session registry closed all connections")

	cmdDispatcher.Stop()
	log.Info("Command dispatcher stopped")

	eventBus.Stop()
	log.Info("Event bus stopped")

	kafkaSink.Close()
	if err := cmdSink.Close(); err != nil {
		log.Errorf("Error closing Kafka command sink: %v", err)
	}
	if err := producer.Close(); err != nil {
		log.Errorf("Error closing Kafka producer: %v", err)
	}
	if err := routingTable.Close(); err != nil {
		log.Errorf("Error closing routing table: %v", err)
	}

	log.Info("Server gracefully stopped.")
}

// extractChargePointID pulls the charge point identity off the trailing
// path segment, per OCPP-J's ws://host/ocpp/{chargePointId} convention.
func extractChargePointID(r *http.Request) string {
	path := r.URL.Path
	for len(path) > 0 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	idx := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			idx = i
			break
		}
	}
	if idx == -1 || idx == len(path)-1 {
		return ""
	}
	return path[idx+1:]
}

// handleFrame decodes one inbound text frame and routes it to the
// negotiated handler set (a CALL) or back to the dispatcher (a CALLRESULT/
// CALLERROR answering an outstanding send_command).
func handleFrame(ctx context.Context, bundle adapter.Bundle, d *dispatcher.Dispatcher, conn *ws.Connection, chargePointID string, data []byte, log *logger.Logger) {
	f, err := frame.Decode(data)
	if err != nil {
		log.Warnf("malformed frame from %s: %v", chargePointID, err)
		decodeErr, ok := err.(*ocpperrors.DecodeError)
		if !ok || decodeErr.UniqueID == "" {
			_ = conn.Close("malformed frame: no uniqueId to reply to")
			return
		}
		reply, encErr := frame.EncodeCallError(decodeErr.UniqueID, ocpperrors.CodeFormationViolation, decodeErr.Error(), nil)
		if encErr != nil {
			log.Errorf("failed to encode CALLERROR for %s: %v", chargePointID, encErr)
			_ = conn.Close("malformed frame: could not encode CALLERROR")
			return
		}
		if sendErr := conn.SendFrame(reply); sendErr != nil {
			log.Warnf("failed to send CALLERROR to %s: %v", chargePointID, sendErr)
		}
		return
	}

	switch f.Type {
	case frame.Call:
		respondToCall(ctx, bundle, conn, chargePointID, f, log)
	case frame.CallResult:
		if !d.Resolve(chargePointID, f.UniqueID, f.Payload) {
			log.Warnf("CALLRESULT from %s matched no pending call (uniqueId %s)", chargePointID, f.UniqueID)
		}
	case frame.CallError:
		if !d.ResolveError(chargePointID, f.UniqueID, f.ErrorCode, f.ErrorDescription) {
			log.Warnf("CALLERROR from %s matched no pending call (uniqueId %s)", chargePointID, f.UniqueID)
		}
	}
}

func respondToCall(ctx context.Context, bundle adapter.Bundle, conn *ws.Connection, chargePointID string, f *frame.Frame, log *logger.Logger) {
	result, err := bundle.Handlers.Handle(ctx, chargePointID, f.Action, f.Payload)
	if err != nil {
		wireErr, ok := err.(ocpperrors.WireError)
		code := ocpperrors.CodeInternalError
		if ok {
			code = wireErr.OCPPErrorCode()
		}
		log.Warnf("%s rejected by handler for %s: %v", f.Action, chargePointID, err)
		data, encErr := frame.EncodeCallError(f.UniqueID, code, err.Error(), nil)
		if encErr != nil {
			log.Errorf("failed to encode CALLERROR for %s: %v", chargePointID, encErr)
			return
		}
		if sendErr := conn.SendFrame(data); sendErr != nil {
			log.Warnf("failed to send CALLERROR to %s: %v", chargePointID, sendErr)
		}
		return
	}

	data, err := frame.EncodeCallResult(f.UniqueID, result)
	if err != nil {
		log.Errorf("failed to encode CALLRESULT for %s action %s: %v", chargePointID, f.Action, err)
		return
	}
	if err := conn.SendFrame(data); err != nil {
		log.Warnf("failed to send CALLRESULT to %s: %v", chargePointID, err)
	}
}

func startMetricsServer(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Metrics server failed: %v", err)
	}
}
