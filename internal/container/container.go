package container

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"oms-roundtrip-go/config"
	"oms-roundtrip-go/gateway"
	"oms-roundtrip-go/infrastructure/logger"
	"oms-roundtrip-go/infrastructure/monitor"
	"oms-roundtrip-go/internal/admin"
	"oms-roundtrip-go/internal/engine"
	"oms-roundtrip-go/ledger"
)

// Container 依赖注入容器，负责组装 OMS 进程的全部组件
type Container struct {
	// 配置
	cfg        config.AppConfig
	configPath string
	envFile    string
	console    io.Writer

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	ledger  ledger.Sink
	fills   admin.FillSource

	// venue 连接与核心引擎
	conn   *gateway.Conn
	engine *engine.Engine

	// 可选组件
	admin   *admin.Server
	watcher *config.Watcher

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 从配置文件（可为空）与 env 文件加载配置。console 接收操作台输出。
func New(configPath, envFile string, console io.Writer) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath, envFile)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewWithConfig(cfg, console)
	c.configPath = configPath
	c.envFile = envFile
	return c, nil
}

// NewWithConfig 使用已加载的配置，不启用热更新。
func NewWithConfig(cfg config.AppConfig, console io.Writer) *Container {
	if console == nil {
		console = io.Discard
	}
	return &Container{
		cfg:       cfg,
		console:   console,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件并连接 venue。失败时释放已经打开的资源。
func (c *Container) Build(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			c.release()
		}
	}()

	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildGateway(ctx); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}
	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}
	if err := c.registerLifecycleComponents(); err != nil {
		return err
	}

	c.printBanner()
	c.logger.Info("container built", zap.Int("components", c.lifecycle.Len()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	c.ledger, err = ledger.Open(c.cfg.Ledger.CSVPath, c.cfg.Ledger.SQLitePath)
	if err != nil {
		return fmt.Errorf("cannot continue without ledger: %w", err)
	}
	c.fills = findFillSource(c.ledger)

	c.logger.Info("infrastructure built",
		zap.String("ledger_csv", c.cfg.Ledger.CSVPath),
		zap.String("ledger_sqlite", c.cfg.Ledger.SQLitePath))
	return nil
}

func (c *Container) buildGateway(ctx context.Context) error {
	conn, err := gateway.Dial(ctx, c.cfg.OMS.VenueAddr, c.cfg.OMS.DialTimeout)
	if err != nil {
		return err
	}
	c.conn = conn
	c.logger.Info("connected to venue", zap.String("addr", conn.RemoteAddr()))
	return nil
}

func (c *Container) buildCoreServices() error {
	var hub *admin.Hub
	comps := engine.Components{
		Sender:   c.conn,
		Ledger:   c.ledger,
		Logger:   c.logger,
		Recorder: c.monitor,
		Console:  c.console,
	}
	if c.cfg.Admin.Addr != "" {
		hub = admin.NewHub(c.logger.Logger)
		comps.Publisher = hub
	}

	eng, err := engine.New(engine.Config{
		Symbol:        c.cfg.OMS.Symbol,
		FirstClientID: c.cfg.OMS.FirstClientID,
		Limits:        c.cfg.RiskLimits(),
	}, comps)
	if err != nil {
		return err
	}
	c.engine = eng

	if hub != nil {
		srv, err := admin.NewServer(admin.Options{
			Addr:           c.cfg.Admin.Addr,
			AllowedOrigins: c.cfg.Admin.AllowedOrigins,
			Snapshots:      eng,
			Fills:          c.fills,
			Metrics:        c.monitor.Handler(),
			Hub:            hub,
			Logger:         c.logger.Logger,
		})
		if err != nil {
			return err
		}
		c.admin = srv
	}

	c.logger.Info("core services built",
		zap.String("symbol", c.cfg.OMS.Symbol),
		zap.Int64("first_client_id", c.cfg.OMS.FirstClientID))
	return nil
}

func (c *Container) registerLifecycleComponents() error {
	if c.admin != nil {
		c.lifecycle.Register(c.admin)
	}
	if c.configPath != "" {
		w, err := config.NewWatcher(c.configPath, c.envFile, c.logger.Logger, c.onReload)
		if err != nil {
			return err
		}
		c.watcher = w
		c.lifecycle.Register(w)
	}
	return nil
}

// onReload 只应用可热更新的字段。
func (c *Container) onReload(cfg config.AppConfig) {
	if err := c.logger.SetLevel(cfg.Log.Level); err != nil {
		c.logger.Warn("ignore reloaded log level", zap.Error(err))
		return
	}
	c.logger.Event("config_reload", map[string]interface{}{
		"path":  c.configPath,
		"level": c.logger.Level(),
	})
}

func (c *Container) printBanner() {
	fmt.Fprintf(c.console, "oms: connected to %s\n", c.cfg.OMS.VenueAddr)
	fmt.Fprint(c.console, "oms: commands:\n"+
		"  BUY <qty> <price>\n"+
		"  SELL <qty> <price>\n"+
		"  CANCEL <client_id>\n"+
		"  STATUS\n"+
		"  exit\n")
	fmt.Fprintf(c.console, "oms: ledger=%s\n", c.cfg.Ledger.CSVPath)
}

// Start 启动管理接口与配置监听。
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Run 运行事件循环直到操作员退出、命令源关闭、venue 断开或 ctx 取消。
func (c *Container) Run(ctx context.Context, commands <-chan string) error {
	return engine.NewLoop(c.engine, c.conn).Run(ctx, commands)
}

// Stop 停止生命周期组件并关闭连接与流水。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	var errs []error
	if err := c.lifecycle.StopAll(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
		errs = append(errs, err)
	}
	if err := c.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release 关闭 venue 连接、流水与日志，可重复调用。
func (c *Container) release() error {
	var errs []error
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close venue conn: %w", err))
		}
		c.conn = nil
	}
	if c.ledger != nil {
		if err := c.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
		c.ledger = nil
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
	return errors.Join(errs...)
}

// HealthCheck 检查所有生命周期组件。
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Config() config.AppConfig     { return c.cfg }
func (c *Container) Engine() *engine.Engine       { return c.engine }
func (c *Container) Logger() *logger.Logger       { return c.logger }
func (c *Container) Monitor() *monitor.Monitor    { return c.monitor }
func (c *Container) Admin() *admin.Server         { return c.admin }
func (c *Container) Watcher() *config.Watcher     { return c.watcher }
func (c *Container) FillSource() admin.FillSource { return c.fills }

// findFillSource 在流水组合中找出可查询的 SQLite 目标。
func findFillSource(sink ledger.Sink) admin.FillSource {
	switch s := sink.(type) {
	case *ledger.SQLiteLedger:
		return s
	case ledger.Multi:
		for _, inner := range s {
			if f := findFillSource(inner); f != nil {
				return f
			}
		}
	}
	return nil
}
