// Package actions — клиент REST-бэкенда побочных эффектов: отправка сообщений,
// управление flow, резолв чата, AI-сводка. Ответ бэкенда при ошибке содержит
// человекочитаемое поле error — консоль показывает его дословно.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client вызывает бэкенд действий. Если URL пустой — все вызовы возвращают ошибку.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  func(ctx context.Context) string
}

// NewClient создаёт клиент. tokenFn извлекает access-токен текущего агента из
// контекста запроса (nil — без авторизации, для тестов).
func NewClient(baseURL string, tokenFn func(ctx context.Context) string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		authToken: tokenFn,
	}
}

// BackendError — отказ бэкенда действий; Message показывается агенту дословно.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("action backend: status %d", e.StatusCode)
}

// Attachment — файл для отправки (поток, не путь: источник — upload агента).
type Attachment struct {
	Name    string
	Type    string
	Content io.Reader
}

// SendMessageRequest — параметры отправки сообщения.
// TempID уходит в metadata и возвращается в metadata.tempId настоящего Message —
// по нему ядро гасит оптимистичную запись.
type SendMessageRequest struct {
	ChatID           string
	Content          string
	ReplyToMessageID string
	TempID           string
	Attachments      []Attachment
}

// SendMessage отправляет сообщение через бэкенд (multipart: поля + вложения).
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"chat_id": req.ChatID,
		"content": req.Content,
	}
	if req.ReplyToMessageID != "" {
		fields["response_message_id"] = req.ReplyToMessageID
	}
	meta, err := json.Marshal(map[string]string{"tempId": req.TempID})
	if err != nil {
		return fmt.Errorf("actions.SendMessage metadata: %w", err)
	}
	fields["metadata"] = string(meta)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("actions.SendMessage field %s: %w", k, err)
		}
	}
	for _, att := range req.Attachments {
		part, err := w.CreateFormFile("attachments", att.Name)
		if err != nil {
			return fmt.Errorf("actions.SendMessage attachment %s: %w", att.Name, err)
		}
		if _, err := io.Copy(part, att.Content); err != nil {
			return fmt.Errorf("actions.SendMessage attachment %s: %w", att.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("actions.SendMessage multipart: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/messages", &buf, w.FormDataContentType())
}

// SendTemplate отправляет шаблон канала (единственный путь на whatsapp_official
// вне 24-часового окна).
func (c *Client) SendTemplate(ctx context.Context, chatID, templateID string, params map[string]string) error {
	return c.doJSON(ctx, http.MethodPost, "/messages/template", map[string]any{
		"chat_id":     chatID,
		"template_id": templateID,
		"params":      params,
	})
}

// DeleteMessage удаляет сообщение по id (доступно не на всех каналах).
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+messageID, nil, "")
}

// StartFlow запускает автоматизацию в чате.
func (c *Client) StartFlow(ctx context.Context, chatID, flowID string) error {
	return c.doJSON(ctx, http.MethodPost, "/flows/start", map[string]string{
		"chat_id": chatID,
		"flow_id": flowID,
	})
}

// PauseFlow ставит активную сессию автоматизации на паузу.
func (c *Client) PauseFlow(ctx context.Context, flowSessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/flows/"+flowSessionID+"/pause", nil)
}

// ResolveChat закрывает чат с типом закрытия и сгенерированным заголовком.
func (c *Client) ResolveChat(ctx context.Context, chatID, closureType, title string) error {
	return c.doJSON(ctx, http.MethodPost, "/chats/"+chatID+"/resolve", map[string]string{
		"closure_type": closureType,
		"title":        title,
	})
}

// GenerateSummary запрашивает AI-сводку переписки.
func (c *Client) GenerateSummary(ctx context.Context, chatID string) (string, error) {
	body, err := c.doRead(ctx, http.MethodPost, "/chats/"+chatID+"/summary", nil, "application/json")
	if err != nil {
		return "", err
	}
	var resp struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("actions.GenerateSummary decode: %w", err)
	}
	return resp.Summary, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("actions marshal %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, body, "application/json")
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) error {
	_, err := c.doRead(ctx, method, path, body, contentType)
	return err
}

func (c *Client) doRead(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	if c.baseURL == "" {
		return nil, &BackendError{Message: "action backend is not configured"}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("actions %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.authToken != nil {
		if token := c.authToken(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("actions %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	be := &BackendError{StatusCode: resp.StatusCode}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(respBody, &payload) == nil {
		be.Message = payload.Error
	}
	return nil, be
}
