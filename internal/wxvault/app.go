// Package wxvault 把数据层、媒体解析和 HTTP 服务装配成一个进程。
package wxvault

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/media"
	"github.com/zaylenc/wxvault/internal/realtime"
	"github.com/zaylenc/wxvault/internal/wechatdb"
	"github.com/zaylenc/wxvault/internal/wxvault/ctx"
	"github.com/zaylenc/wxvault/internal/wxvault/http"
	"github.com/zaylenc/wxvault/pkg/util/dat2img"
)

type App struct {
	ctx *ctx.Context

	db       *wechatdb.DB
	resolver *media.Resolver
	avatars  *media.AvatarCache
	syncer   *realtime.Syncer
	http     *http.Service

	// 实时桥由外部注入,缺席时同步接口报不可用
	bridge realtime.Bridge

	shutdownOnce sync.Once
}

func New(configPath string) (*App, error) {
	c, err := ctx.New(configPath)
	if err != nil {
		return nil, err
	}
	return &App{ctx: c, bridge: realtime.UnavailableBridge{}}, nil
}

// SetBridge 注入实时桥实现,必须在 Run 之前调用。
func (a *App) SetBridge(b realtime.Bridge) {
	if b != nil {
		a.bridge = b
	}
}

func (a *App) Context() *ctx.Context { return a.ctx }

// Run 打开数据层并启动 HTTP 服务,阻塞到收到退出信号。
func (a *App) Run() error {
	if err := a.openDataLayer(); err != nil {
		return err
	}
	defer a.Stop()

	a.http = http.NewService(a.ctx, a.db, a.resolver, a.avatars, a.syncer)
	if err := a.http.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
	return nil
}

func (a *App) openDataLayer() error {
	dataDir := a.ctx.GetDataDir()
	if dataDir == "" {
		return errors.InvalidArg("data dir")
	}
	if _, err := os.Stat(dataDir); err != nil {
		return errors.DBConnectFailed(dataDir, err)
	}

	if imgKey := a.ctx.GetImgKey(); imgKey != "" {
		dat2img.SetAesKey(imgKey)
	} else if _, err := dat2img.ScanAndSetXorKey(dataDir); err != nil {
		log.Debug().Err(err).Msg("xor key scan failed, keeping default")
	}

	db, err := wechatdb.New(dataDir)
	if err != nil {
		return err
	}
	a.db = db

	if err := db.LoadAllContacts(); err != nil {
		log.Debug().Err(err).Msg("contact cache warmup failed")
	}
	a.ctx.Refresh()
	log.Info().Str("dataUsage", a.ctx.DataUsage).Str("workUsage", a.ctx.WorkUsage).
		Msg("data layer ready")

	workDir := a.ctx.GetWorkDir()
	a.resolver = media.NewResolver(dataDir, filepath.Join(workDir, "resource"),
		db.DataSource().GetHardlinkMedia, a.ctx.DeepScan)

	avatars, err := media.OpenAvatarCache(filepath.Join(workDir, "avatar_cache"), a.ctx.Account)
	if err != nil {
		log.Warn().Err(err).Msg("avatar cache unavailable")
	} else {
		a.avatars = avatars
	}

	opts := realtime.DefaultOptions()
	opts.StorageDir = a.ctx.StorageDir
	opts.DatabaseKey = a.ctx.GetDataKey()
	a.syncer = realtime.NewSyncer(db, realtime.NewConnManager(a.bridge), opts)
	a.syncer.SetSnsStore(realtime.NewSnsStore(filepath.Join(workDir, "sns")))

	return nil
}

// Stop 释放全部资源,幂等。
func (a *App) Stop() {
	a.shutdownOnce.Do(func() {
		if a.http != nil {
			a.http.Stop()
		}
		if a.avatars != nil {
			if err := a.avatars.Close(); err != nil {
				log.Debug().Err(err).Msg("close avatar cache failed")
			}
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				log.Debug().Err(err).Msg("close database failed")
			}
		}
		if err := a.ctx.Commit(); err != nil {
			log.Debug().Err(err).Msg("persist config failed")
		}
	})
}
