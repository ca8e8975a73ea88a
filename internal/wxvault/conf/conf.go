// Package conf 定义服务配置,落在 viper 管理的配置文件里。
package conf

import (
	"time"

	"github.com/zaylenc/wxvault/pkg/config"
)

const DefaultHTTPAddr = "127.0.0.1:5030"

// AccountConfig 是单个账号的解密与目录信息。
type AccountConfig struct {
	Account    string    `json:"account" mapstructure:"account"`
	DataDir    string    `json:"dataDir" mapstructure:"dataDir"`       // 解密快照目录
	WorkDir    string    `json:"workDir" mapstructure:"workDir"`       // 输出与缓存目录
	DataKey    string    `json:"dataKey" mapstructure:"dataKey"`       // 64 位十六进制库密钥
	ImgKey     string    `json:"imgKey" mapstructure:"imgKey"`         // v4 图片 AES 密钥
	StorageDir string    `json:"storageDir" mapstructure:"storageDir"` // 在线库目录,空则探测
	LastTime   time.Time `json:"lastTime" mapstructure:"lastTime"`
}

// ServerConfig 是进程级配置,History 按账号记住上次的目录和密钥。
type ServerConfig struct {
	HTTPAddr        string                   `json:"httpAddr" mapstructure:"httpAddr"`
	LastAccount     string                   `json:"lastAccount" mapstructure:"lastAccount"`
	IncludeOfficial bool                     `json:"includeOfficial" mapstructure:"includeOfficial"`
	DeepScan        bool                     `json:"deepScan" mapstructure:"deepScan"`
	History         map[string]AccountConfig `json:"history" mapstructure:"history"`
}

// Load 读配置文件,返回配置和管理器。文件不存在时给默认值。
func Load(configPath string) (*ServerConfig, *config.Manager, error) {
	cm, err := config.New("wxvault", configPath)
	if err != nil {
		return nil, nil, err
	}

	sc := &ServerConfig{}
	if err := cm.Unmarshal(sc); err != nil {
		return nil, nil, err
	}
	if sc.HTTPAddr == "" {
		sc.HTTPAddr = DefaultHTTPAddr
	}
	if sc.History == nil {
		sc.History = make(map[string]AccountConfig)
	}
	return sc, cm, nil
}

// Save 把配置写回文件。
func (sc *ServerConfig) Save(cm *config.Manager) error {
	if cm == nil {
		return nil
	}
	if err := cm.SetConfig("httpAddr", sc.HTTPAddr); err != nil {
		return err
	}
	if err := cm.SetConfig("lastAccount", sc.LastAccount); err != nil {
		return err
	}
	if err := cm.SetConfig("includeOfficial", sc.IncludeOfficial); err != nil {
		return err
	}
	if err := cm.SetConfig("deepScan", sc.DeepScan); err != nil {
		return err
	}
	return cm.SetConfig("history", sc.History)
}
