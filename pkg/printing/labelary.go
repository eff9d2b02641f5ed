package printing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/IPampurin/order-webhooks/pkg/config"
)

// Labelary конвертирует ZPL в PDF для предпросмотра
type Labelary struct {
	cfg  config.Labelary
	http *http.Client
}

func NewLabelary(cfg config.Labelary, timeout time.Duration) *Labelary {

	return &Labelary{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// RenderPDF возвращает PDF с одной этикеткой
func (l *Labelary) RenderPDF(ctx context.Context, zpl string) ([]byte, error) {

	endpoint := fmt.Sprintf("%s/%ddpmm/labels/%s/0/", strings.TrimRight(l.cfg.URL, "/"), l.cfg.DPMM, l.cfg.Size)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(zpl))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к labelary: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа labelary: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ошибка генерации PDF: статус %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}
