/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

// Details is a room together with its current participants.
type Details struct {
	Room         Info          `json:"room"`
	Participants []Participant `json:"participants" validate:"dive"`
}

type AnswerResult struct {
	Correct bool `json:"correct"`
	Score   int  `json:"score"`
}

// Directory is the request/response side of the game server.
type Directory interface {
	ListRooms(ctx context.Context) ([]Info, error)
	RoomDetails(ctx context.Context, roomID string) (Details, error)
	JoinRoom(ctx context.Context, roomID string) (Details, error)
	LeaveRoom(ctx context.Context, roomID string) error
	SubmitAnswer(ctx context.Context, roomID string, round int, answer string) (AnswerResult, error)
}

type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "api: " + strconv.Itoa(e.Status) + " " + http.StatusText(e.Status)
	}
	return "api: " + strconv.Itoa(e.Status) + " " + e.Message
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrRoomNotFound
	case http.StatusConflict:
		return ErrRoomFull
	}
	return nil
}

// Client talks to <base>/api/rooms.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

func NewClient(base, token string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported api scheme %q", u.Scheme)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{base: u, token: token, http: hc}, nil
}

func (c *Client) ListRooms(ctx context.Context) ([]Info, error) {
	var rooms []Info
	if err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &rooms); err != nil {
		return nil, err
	}

	out := rooms[:0]
	for _, r := range rooms {
		if err := validate.Struct(r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) RoomDetails(ctx context.Context, roomID string) (Details, error) {
	return c.details(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID))
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) (Details, error) {
	return c.details(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/join")
}

func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/leave", nil, nil)
}

func (c *Client) SubmitAnswer(ctx context.Context, roomID string, round int, answer string) (AnswerResult, error) {
	var res AnswerResult
	err := c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/answer",
		TextPayload{Round: round, Text: answer}, &res)
	return res, err
}

func (c *Client) details(ctx context.Context, method, path string) (Details, error) {
	var d Details
	if err := c.do(ctx, method, path, nil, &d); err != nil {
		return Details{}, err
	}
	if err := validate.Struct(d); err != nil {
		return Details{}, fmt.Errorf("%w: room details: %v", ErrInvalidPayload, err)
	}
	return d, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	u := c.base.JoinPath(path)

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	return apiErr
}
