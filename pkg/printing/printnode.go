package printing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/config"
)

// PrintNode - клиент облачной печати PrintNode
type PrintNode struct {
	cfg  config.Print
	http *http.Client
	log  *zap.Logger
}

func NewPrintNode(cfg config.Print, log *zap.Logger) *PrintNode {

	if log == nil {
		log = zap.NewNop()
	}

	return &PrintNode{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log:  log.Named("printnode"),
	}
}

type printJob struct {
	PrinterID   int64  `json:"printerId"`
	Title       string `json:"title"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Submit отправляет сырое ZPL задание и возвращает id задания
func (p *PrintNode) Submit(ctx context.Context, zpl string) (int64, error) {

	payload, err := json.Marshal(printJob{
		PrinterID:   p.cfg.PrinterID,
		Title:       p.cfg.Title,
		ContentType: "raw_base64",
		Content:     base64.StdEncoding.EncodeToString([]byte(zpl)),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPrintFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPrintFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	// ключ API передаётся как имя пользователя с пустым паролем
	req.SetBasicAuth(p.cfg.APIKey, "")

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPrintFailure, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("%w: статус %d: %s", ErrPrintFailure, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// PrintNode отвечает голым числом - id задания
	jobID, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: неожиданный ответ %q", ErrPrintFailure, string(body))
	}

	p.log.Info("задание на печать отправлено", zap.Int64("job_id", jobID), zap.Int64("printer_id", p.cfg.PrinterID))

	return jobID, nil
}
