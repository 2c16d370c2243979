package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"FrameTimeAnalyzer/internal/analysis"
	"FrameTimeAnalyzer/internal/capture"
	"FrameTimeAnalyzer/internal/config"
	"FrameTimeAnalyzer/internal/database"
	"FrameTimeAnalyzer/internal/logger"
	"FrameTimeAnalyzer/internal/metrics"
	"FrameTimeAnalyzer/internal/report"
)

// 错误码
const (
	CodeInvalidCapture = "INVALID_CAPTURE"
	CodeInvalidParam   = "INVALID_PARAM"
	CodeTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeNotFound       = "NOT_FOUND"
	CodeStoreError     = "STORE_ERROR"
	CodeEncodeError    = "ENCODE_ERROR"
)

// DefaultSource 上传未指定 source 时使用的来源名
const DefaultSource = "upload"

// APIResponse API响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// PaginatedResponse 分页响应
type PaginatedResponse struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
	Timestamp  int64       `json:"timestamp"`
}

// Pagination 分页信息
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// Options 服务依赖
type Options struct {
	Store    database.ReportStore
	Exporter *metrics.Exporter
	// Hub 为 nil 时不提供 /ws
	Hub      *logger.Hub
	Analysis analysis.Options
	Log      logrus.FieldLogger
}

// APIServer 帧时间分析 HTTP API 服务器
type APIServer struct {
	router  *mux.Router
	server  *http.Server
	handler http.Handler

	store    database.ReportStore
	exporter *metrics.Exporter
	hub      *logger.Hub
	log      logrus.FieldLogger
	maxBody  int64

	analysisMu sync.RWMutex
	analysis   analysis.Options

	// 统计信息
	requestCount atomic.Int64
	errorCount   atomic.Int64
	startTime    time.Time
	now          func() time.Time
}

// NewAPIServer 创建 HTTP API 服务器
func NewAPIServer(cfg config.ServerConfig, opts Options) *APIServer {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	store := opts.Store
	if store == nil {
		store = database.NewMemoryStore()
	}
	exporter := opts.Exporter
	if exporter == nil {
		exporter = metrics.NewExporter(false)
	}

	s := &APIServer{
		router:    mux.NewRouter(),
		store:     store,
		exporter:  exporter,
		hub:       opts.Hub,
		log:       log.WithField("module", "httpserver"),
		maxBody:   cfg.MaxUploadBytes,
		analysis:  opts.Analysis,
		startTime: time.Now(),
		now:       time.Now,
	}
	if s.maxBody <= 0 {
		s.maxBody = 64 << 20
	}

	s.setupRoutes()

	// 设置CORS
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	s.handler = c.Handler(s.router)

	s.server = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// setupRoutes 设置路由
func (s *APIServer) setupRoutes() {
	// 添加中间件
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// 报告
	api.HandleFunc("/reports", s.createReportHandler).Methods(http.MethodPost)
	api.HandleFunc("/reports", s.listReportsHandler).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", s.getReportHandler).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", s.deleteReportHandler).Methods(http.MethodDelete)

	// 健康检查和指标
	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.exporter.Handler()).Methods(http.MethodGet)

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.HandleWebSocket)
	}
}

// Handler 返回带 CORS 的根处理器
func (s *APIServer) Handler() http.Handler {
	return s.handler
}

// SetAnalysisOptions 替换后续上传使用的分析参数（配置热加载）
func (s *APIServer) SetAnalysisOptions(opts analysis.Options) {
	s.analysisMu.Lock()
	s.analysis = opts
	s.analysisMu.Unlock()
}

// AnalysisOptions 当前分析参数
func (s *APIServer) AnalysisOptions() analysis.Options {
	s.analysisMu.RLock()
	defer s.analysisMu.RUnlock()
	return s.analysis
}

// statusRecorder 记录响应状态码；保留 Hijacker 以支持 WebSocket 升级
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// 中间件
func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"uri":      r.RequestURI,
			"remote":   r.RemoteAddr,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("HTTP请求")
	})
}

func (s *APIServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.requestCount.Add(1)
		s.exporter.ObserveRequest(r.Method, route, rec.status, time.Since(start).Seconds())
	})
}

// createReportHandler 上传 CSV 采集文件并生成报告
func (s *APIServer) createReportHandler(w http.ResponseWriter, r *http.Request) {
	opts := s.AnalysisOptions()
	q := r.URL.Query()
	if v := q.Get("warmup"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeErrorResponse(w, http.StatusBadRequest, CodeInvalidParam, fmt.Sprintf("warmup must be a non-negative integer, got %q", v))
			return
		}
		opts.WarmupFrames = n
	}
	source := strings.TrimSpace(q.Get("source"))
	if source == "" {
		source = DefaultSource
	}

	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	series, err := capture.ReadCSV(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, CodeTooLarge,
				fmt.Sprintf("capture exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeErrorResponse(w, http.StatusBadRequest, CodeInvalidCapture, err.Error())
		return
	}

	rep := analysis.NewAnalyzer(opts, s.log).Analyze(series)
	rep.Identify(source, s.now())

	if err := s.store.Save(r.Context(), rep); err != nil {
		s.log.WithError(err).Error("保存报告失败")
		s.writeErrorResponse(w, http.StatusInternalServerError, CodeStoreError, "failed to save report")
		return
	}

	s.exporter.Observe(rep)
	summary := report.Summarize(rep)
	if s.hub != nil {
		s.hub.BroadcastReport(summary)
	}
	s.log.WithFields(logrus.Fields{
		"id":     rep.ID,
		"source": source,
		"frames": rep.Series.Frames,
		"grade":  rep.Findings.Grade,
	}).Info("📊 报告已生成")

	w.Header().Set("Location", "/api/v1/reports/"+rep.ID)
	s.writeJSONResponse(w, http.StatusCreated, APIResponse{
		Success:   true,
		Data:      rep,
		Timestamp: s.now().UnixMilli(),
	})
}

// listReportsHandler 报告摘要分页列表
func (s *APIServer) listReportsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", database.DefaultListLimit)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, CodeInvalidParam, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, CodeInvalidParam, err.Error())
		return
	}
	if limit > database.MaxListLimit {
		limit = database.MaxListLimit
	}

	reports, total, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.log.WithError(err).Error("查询报告列表失败")
		s.writeErrorResponse(w, http.StatusInternalServerError, CodeStoreError, "failed to list reports")
		return
	}

	summaries := make([]report.Summary, 0, len(reports))
	for _, rep := range reports {
		summaries = append(summaries, report.Summarize(rep))
	}
	s.writePaginatedResponse(w, summaries, Pagination{Limit: limit, Offset: offset, Total: total})
}

// getReportHandler 按格式返回完整报告
func (s *APIServer) getReportHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	format, err := negotiateFormat(r)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, CodeInvalidParam, err.Error())
		return
	}

	rep, ok := s.lookup(w, r, id)
	if !ok {
		return
	}

	if format == report.FormatJSON {
		s.writeSuccessResponse(w, rep)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if format == report.FormatProto {
		data, err := report.EncodeProto(rep)
		if err != nil {
			s.writeErrorResponse(w, http.StatusInternalServerError, CodeEncodeError, err.Error())
			return
		}
		_, _ = w.Write(data)
		return
	}
	if err := report.Write(w, rep, format); err != nil {
		s.log.WithError(err).Warn("写出报告失败")
	}
}

// deleteReportHandler 删除报告
func (s *APIServer) deleteReportHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeErrorResponse(w, http.StatusNotFound, CodeNotFound, "report "+id+" not found")
			return
		}
		s.log.WithError(err).Error("删除报告失败")
		s.writeErrorResponse(w, http.StatusInternalServerError, CodeStoreError, "failed to delete report")
		return
	}
	s.writeSuccessResponse(w, map[string]string{"id": id})
}

func (s *APIServer) lookup(w http.ResponseWriter, r *http.Request, id string) (*analysis.Report, bool) {
	rep, err := s.store.Get(r.Context(), id)
	if err == nil {
		return rep, true
	}
	if errors.Is(err, database.ErrNotFound) {
		s.writeErrorResponse(w, http.StatusNotFound, CodeNotFound, "report "+id+" not found")
		return nil, false
	}
	s.log.WithError(err).Error("读取报告失败")
	s.writeErrorResponse(w, http.StatusInternalServerError, CodeStoreError, "failed to load report")
	return nil, false
}

// negotiateFormat ?format= 优先，其次 Accept 头，默认 JSON
func negotiateFormat(r *http.Request) (report.Format, error) {
	if v := r.URL.Query().Get("format"); v != "" {
		return report.ParseFormat(v)
	}
	accept := r.Header.Get("Accept")
	switch {
	case strings.Contains(accept, report.ContentTypeProto):
		return report.FormatProto, nil
	case strings.Contains(accept, "text/plain"):
		return report.FormatText, nil
	}
	return report.FormatJSON, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, v)
	}
	return n, nil
}

// healthCheckHandler 健康检查；存储不可用时返回 503
func (s *APIServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, storeStatus, code := "healthy", "ok", http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		status, storeStatus, code = "degraded", err.Error(), http.StatusServiceUnavailable
	}

	data := map[string]interface{}{
		"status":         status,
		"store":          storeStatus,
		"uptime":         time.Since(s.startTime).Seconds(),
		"total_requests": s.requestCount.Load(),
		"error_count":    s.errorCount.Load(),
	}
	if s.hub != nil {
		data["ws_clients"] = s.hub.ClientCount()
	}
	s.writeJSONResponse(w, code, APIResponse{
		Success:   code == http.StatusOK,
		Data:      data,
		Timestamp: s.now().UnixMilli(),
	})
}

// 辅助方法
func (s *APIServer) writeSuccessResponse(w http.ResponseWriter, data interface{}) {
	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: s.now().UnixMilli(),
	}
	s.writeJSONResponse(w, http.StatusOK, response)
}

func (s *APIServer) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	s.errorCount.Add(1)

	response := APIResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Timestamp: s.now().UnixMilli(),
	}
	s.writeJSONResponse(w, statusCode, response)
}

func (s *APIServer) writePaginatedResponse(w http.ResponseWriter, data interface{}, pagination Pagination) {
	response := PaginatedResponse{
		Success:    true,
		Data:       data,
		Pagination: pagination,
		Timestamp:  s.now().UnixMilli(),
	}
	s.writeJSONResponse(w, http.StatusOK, response)
}

func (s *APIServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Debug("写出响应失败")
	}
}

// Start 启动服务器，Stop 引起的关闭不视为错误
func (s *APIServer) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("🚀 HTTP API服务器启动")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止服务器
func (s *APIServer) Stop(ctx context.Context) error {
	s.log.Info("HTTP API服务器停止")
	return s.server.Shutdown(ctx)
}
