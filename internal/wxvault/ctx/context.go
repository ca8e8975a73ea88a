// Package ctx 维护服务的运行态:当前账号、目录、密钥和开关。
package ctx

import (
	"sync"
	"time"

	"github.com/zaylenc/wxvault/internal/wxvault/conf"
	"github.com/zaylenc/wxvault/pkg/config"
	"github.com/zaylenc/wxvault/pkg/util"
)

type Context struct {
	conf *conf.ServerConfig
	cm   *config.Manager
	mu   sync.RWMutex

	Account    string
	DataDir    string
	WorkDir    string
	DataKey    string
	ImgKey     string
	StorageDir string

	HTTPAddr        string
	IncludeOfficial bool
	DeepScan        bool

	// 目录占用,Refresh 时计算,仅供展示
	DataUsage string
	WorkUsage string
}

func New(configPath string) (*Context, error) {
	sc, cm, err := conf.Load(configPath)
	if err != nil {
		return nil, err
	}

	c := &Context{
		conf:            sc,
		cm:              cm,
		HTTPAddr:        sc.HTTPAddr,
		IncludeOfficial: sc.IncludeOfficial,
		DeepScan:        sc.DeepScan,
	}
	c.SwitchAccount(sc.LastAccount)
	return c, nil
}

// SwitchAccount 载入某账号的历史配置,没有历史时只设默认工作目录。
func (c *Context) SwitchAccount(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Account = account
	if ac, ok := c.conf.History[account]; ok {
		c.DataDir = ac.DataDir
		c.WorkDir = ac.WorkDir
		c.DataKey = ac.DataKey
		c.ImgKey = ac.ImgKey
		c.StorageDir = ac.StorageDir
	}
	if c.WorkDir == "" {
		c.WorkDir = util.DefaultWorkDir(account)
	}
}

// Commit 把当前运行态写回配置文件。
func (c *Context) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conf.LastAccount = c.Account
	c.conf.HTTPAddr = c.HTTPAddr
	c.conf.IncludeOfficial = c.IncludeOfficial
	c.conf.DeepScan = c.DeepScan
	if c.Account != "" {
		c.conf.History[c.Account] = conf.AccountConfig{
			Account:    c.Account,
			DataDir:    c.DataDir,
			WorkDir:    c.WorkDir,
			DataKey:    c.DataKey,
			ImgKey:     c.ImgKey,
			StorageDir: c.StorageDir,
			LastTime:   time.Now(),
		}
	}
	return c.conf.Save(c.cm)
}

// Refresh 重算数据目录和工作目录的占用。
func (c *Context) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DataDir != "" {
		c.DataUsage = util.GetDirSize(c.DataDir)
	}
	if c.WorkDir != "" {
		c.WorkUsage = util.GetDirSize(c.WorkDir)
	}
}

func (c *Context) GetAccount() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Account
}

func (c *Context) GetHTTPAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.HTTPAddr
}

func (c *Context) SetHTTPAddr(addr string) {
	c.mu.Lock()
	c.HTTPAddr = addr
	c.mu.Unlock()
}

func (c *Context) GetDataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DataDir
}

func (c *Context) SetDataDir(dir string) {
	c.mu.Lock()
	c.DataDir = dir
	c.mu.Unlock()
}

func (c *Context) GetWorkDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.WorkDir
}

func (c *Context) GetDataKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DataKey
}

func (c *Context) SetDataKey(key string) {
	c.mu.Lock()
	c.DataKey = key
	c.mu.Unlock()
}

func (c *Context) GetImgKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ImgKey
}
