package http

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/media"
	"github.com/zaylenc/wxvault/internal/model"
	"github.com/zaylenc/wxvault/pkg/util"
	"github.com/zaylenc/wxvault/pkg/util/silk"
)

func (s *Service) initRouter() {
	s.router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	s.router.GET("/image/*key", func(c *gin.Context) { s.handleMedia(c, model.MediaImage) })
	s.router.GET("/video/*key", func(c *gin.Context) { s.handleMedia(c, model.MediaVideo) })
	s.router.GET("/file/*key", func(c *gin.Context) { s.handleMedia(c, model.MediaFile) })
	s.router.GET("/voice/*key", s.handleVoice)
	s.router.GET("/avatar/:username", s.handleAvatar)

	api := s.router.Group("/api/v1")
	{
		api.GET("/chatlog", s.handleChatlog)
		api.GET("/session", s.handleSessions)
		api.GET("/contact", s.handleContacts)
		api.GET("/chatroom", s.handleChatRooms)
		api.POST("/sync", s.handleSync)
		api.POST("/sync/all", s.handleSyncAll)
	}
}

func (s *Service) handleChatlog(c *gin.Context) {
	q := struct {
		Time    string `form:"time"`
		Talker  string `form:"talker"`
		Sender  string `form:"sender"`
		Keyword string `form:"keyword"`
		Limit   int    `form:"limit"`
		Offset  int    `form:"offset"`
		Format  string `form:"format"`
	}{}
	if err := c.BindQuery(&q); err != nil {
		errors.Err(c, err)
		return
	}
	if q.Talker == "" {
		errors.Err(c, errors.ErrTalkerEmpty)
		return
	}

	start, end, ok := util.TimeRangeOf(q.Time)
	if !ok {
		errors.Err(c, errors.InvalidArg("time"))
		return
	}
	if q.Limit < 0 {
		q.Limit = 0
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	// 读快照前尽力带上在线库的新消息;在线源被隐私设置截断
	// (或桥不可用)时直接读快照,不再打扰在线库
	if s.syncer != nil {
		if account := s.conf.GetAccount(); account != "" &&
			!s.syncer.PreferSnapshot(c.Request.Context(), account, q.Talker) {
			if _, err := s.syncer.SyncLatest(c.Request.Context(), account, q.Talker, 0); err != nil {
				log.Debug().Err(err).Str("talker", q.Talker).Msg("pre-read sync failed")
			}
		}
	}

	messages, err := s.db.GetMessages(start, end, q.Talker, q.Limit, q.Offset)
	if err != nil {
		errors.Err(c, err)
		return
	}
	messages = filterMessages(messages, q.Sender, q.Keyword)

	switch strings.ToLower(strings.TrimSpace(q.Format)) {
	case "csv":
		c.Writer.Header().Set("Content-Type", "text/csv; charset=utf-8")
		c.Writer.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s_%s_%s.csv", q.Talker, start.Format("2006-01-02"), end.Format("2006-01-02")))
		w := csv.NewWriter(c.Writer)
		w.Write([]string{"Time", "SenderName", "Sender", "Talker", "Content"})
		for _, m := range messages {
			w.Write([]string{m.CreateTime.Format("2006-01-02 15:04:05"), m.SenderName, m.Sender, m.Talker, m.Content})
		}
		w.Flush()
	case "text", "plain":
		c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
		layout := util.PerfectTimeFormat(start, end)
		for _, m := range messages {
			c.Writer.WriteString(m.PlainText(layout) + "\n")
		}
	default:
		c.JSON(http.StatusOK, messages)
	}
}

// filterMessages 按发送人和关键字做内存过滤。
func filterMessages(messages []*model.Message, sender, keyword string) []*model.Message {
	if sender == "" && keyword == "" {
		return messages
	}
	senders := make(map[string]bool)
	for _, s := range util.Str2List(sender, ",") {
		senders[s] = true
	}
	out := messages[:0:0]
	for _, m := range messages {
		if len(senders) > 0 && !senders[m.Sender] {
			continue
		}
		if keyword != "" && !strings.Contains(m.Content, keyword) && !strings.Contains(m.Title, keyword) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Service) handleSessions(c *gin.Context) {
	q := struct {
		Key             string `form:"key"`
		Limit           int    `form:"limit"`
		Offset          int    `form:"offset"`
		IncludeOfficial bool   `form:"includeOfficial"`
	}{}
	if err := c.BindQuery(&q); err != nil {
		errors.Err(c, err)
		return
	}
	resp, err := s.db.GetSessions(q.Key, q.Limit, q.Offset, q.IncludeOfficial)
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleContacts(c *gin.Context) {
	q := struct {
		Key    string `form:"key"`
		Limit  int    `form:"limit"`
		Offset int    `form:"offset"`
	}{}
	if err := c.BindQuery(&q); err != nil {
		errors.Err(c, err)
		return
	}
	resp, err := s.db.GetContacts(q.Key, q.Limit, q.Offset)
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleChatRooms(c *gin.Context) {
	q := struct {
		Key    string `form:"key"`
		Limit  int    `form:"limit"`
		Offset int    `form:"offset"`
	}{}
	if err := c.BindQuery(&q); err != nil {
		errors.Err(c, err)
		return
	}
	resp, err := s.db.GetContacts(q.Key, 0, 0)
	if err != nil {
		errors.Err(c, err)
		return
	}
	rooms := make([]*model.Contact, 0)
	for _, contact := range resp.Items {
		if contact.IsChatRoom() {
			rooms = append(rooms, contact)
		}
	}
	if q.Limit > 0 {
		if q.Offset >= len(rooms) {
			rooms = rooms[:0]
		} else {
			end := q.Offset + q.Limit
			if end > len(rooms) {
				end = len(rooms)
			}
			rooms = rooms[q.Offset:end]
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": rooms})
}

func (s *Service) handleMedia(c *gin.Context, _type string) {
	key := strings.Trim(c.Param("key"), "/")
	if key == "" {
		errors.Err(c, errors.InvalidArg("key"))
		return
	}

	if _type == model.MediaVideo && c.Query("thumb") == "1" {
		_type = model.MediaVideoThumb
	}
	req := media.Request{
		Type:   _type,
		MD5:    strings.ToLower(key),
		Talker: c.Query("talker"),
	}
	if !util.IsHex(key) {
		req.MD5, req.FileID = "", key
	}
	// 视频按月分桶,带上消息时间才能走确定性路径
	if ts, err := strconv.ParseInt(c.Query("t"), 10, 64); err == nil && ts > 0 {
		req.Time = time.Unix(util.NormalizeUnixSeconds(ts), 0)
	}

	m, err := s.resolver.Resolve(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, errors.ErrMediaNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		errors.Err(c, err)
		return
	}
	c.Header("Cache-Control", "max-age=604800")
	c.Data(http.StatusOK, m.MimeType, m.Data)
}

func (s *Service) handleVoice(c *gin.Context) {
	key := strings.Trim(c.Param("key"), "/")
	if key == "" {
		errors.Err(c, errors.InvalidArg("key"))
		return
	}

	m, err := s.db.GetVoice(key)
	if err != nil {
		if errors.Is(err, errors.ErrMediaNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		errors.Err(c, err)
		return
	}

	mp3, err := silk.Silk2MP3(m.Data)
	if err != nil {
		// 转码失败退回原始 silk
		c.Data(http.StatusOK, "audio/silk", m.Data)
		return
	}
	c.Header("Cache-Control", "max-age=604800")
	c.Data(http.StatusOK, "audio/mpeg", mp3)
}

func (s *Service) handleAvatar(c *gin.Context) {
	username := c.Param("username")
	if username == "" {
		errors.Err(c, errors.InvalidArg("username"))
		return
	}

	// 优先本地 head_image 表,miss 时走 URL 缓存
	if data, err := s.db.GetAvatar(username); err == nil {
		c.Header("Cache-Control", "max-age=604800")
		c.Data(http.StatusOK, http.DetectContentType(data), data)
		return
	}

	url := s.db.AvatarURL(username)
	if url == "" || s.avatars == nil {
		c.Status(http.StatusNotFound)
		return
	}
	data, mime, err := s.avatars.Get(c.Request.Context(), url)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Cache-Control", "max-age=604800")
	c.Data(http.StatusOK, mime, data)
}

func (s *Service) handleSync(c *gin.Context) {
	q := struct {
		Account string `json:"account" form:"account"`
		Talker  string `json:"talker" form:"talker"`
		MaxScan int    `json:"maxScan" form:"maxScan"`
	}{}
	if err := c.ShouldBind(&q); err != nil {
		errors.Err(c, err)
		return
	}
	if s.syncer == nil {
		errors.Err(c, errors.BridgeUnavailable(nil))
		return
	}

	result, err := s.syncer.SyncLatest(c.Request.Context(), q.Account, q.Talker, q.MaxScan)
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Service) handleSyncAll(c *gin.Context) {
	q := struct {
		Account string `json:"account" form:"account"`
		MaxScan int    `json:"maxScan" form:"maxScan"`
	}{}
	if err := c.ShouldBind(&q); err != nil {
		errors.Err(c, err)
		return
	}
	if s.syncer == nil {
		errors.Err(c, errors.BridgeUnavailable(nil))
		return
	}

	batch, err := s.syncer.SyncAll(c.Request.Context(), q.Account, q.MaxScan)
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}
