package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/toastd/toastd/internal/client"
	"github.com/toastd/toastd/internal/config"
	"github.com/toastd/toastd/internal/dispatch"
)

const clientTimeout = 30 * time.Second

var (
	serverURL     string
	sendTitle     string
	sendMessage   string
	sendImage     string
	sendPlacement string
	sendFiles     []string
	sendCallback  string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a notification to a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		body, contentType, err := buildMultipart()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()

		reply, err := newClient(cfg).Notify(ctx, body, contentType)
		if err != nil {
			return err
		}
		if reply.Status != http.StatusOK {
			return fmt.Errorf("server returned %d: %s", reply.Status, strings.TrimSpace(string(reply.Body)))
		}
		var resp struct {
			ID     string `json:"id"`
			Action string `json:"action"`
		}
		_ = json.Unmarshal(reply.Body, &resp)
		fmt.Printf("Notification sent (id %s, action %s)\n", resp.ID, resp.Action)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the health of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()

		reply, err := newClient(loadConfig()).Health(ctx)
		if err != nil && len(reply.Body) == 0 {
			fmt.Println("Status: not running")
			return err
		}
		var out bytes.Buffer
		if json.Indent(&out, reply.Body, "", "  ") != nil {
			out.Write(reply.Body)
		}
		fmt.Println(out.String())
		if reply.Status != http.StatusOK {
			return fmt.Errorf("server is not healthy (%d)", reply.Status)
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the notification source with the OS",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		src := dispatch.Source{AppID: cfg.AppID, DisplayName: cfg.DisplayName, ExePath: exe}
		if err := dispatch.InstallSource(src); err != nil {
			return err
		}
		fmt.Printf("Registered %s (%s)\n", cfg.AppID, cfg.DisplayName)
		return nil
	},
}

var unregisterCmd = &cobra.Command{
	Use:   "unregister",
	Short: "Remove the notification source registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := dispatch.UninstallSource(cfg.AppID); err != nil {
			return err
		}
		fmt.Printf("Unregistered %s\n", cfg.AppID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, statusCmd} {
		c.Flags().StringVar(&serverURL, "server", "", "server URL (default derived from bind and port)")
	}

	f := sendCmd.Flags()
	f.StringVar(&sendTitle, "title", "", "notification title")
	f.StringVar(&sendMessage, "message", "", "notification message")
	f.StringVar(&sendImage, "image", "", "image file to show")
	f.StringVar(&sendPlacement, "image-position", "banner", "image placement: banner or logo")
	f.StringArrayVar(&sendFiles, "file", nil, "file to attach (repeatable)")
	f.StringVar(&sendCallback, "callback", "", "command to run when the notification is clicked")
	_ = sendCmd.MarkFlagRequired("title")
	_ = sendCmd.MarkFlagRequired("message")
}

func baseURL(cfg *config.Config) string {
	if serverURL != "" {
		return serverURL
	}
	host := cfg.Bind
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = "127.0.0.1"
	}
	c := *cfg
	c.Bind = host
	return "http://" + c.Addr()
}

func newClient(cfg *config.Config) *client.Client {
	return client.New(baseURL(cfg), cfg.Username, cfg.Password)
}

func buildMultipart() ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{{"title", sendTitle}, {"message", sendMessage}}
	if sendCallback != "" {
		fields = append(fields, [2]string{"callback_command", sendCallback})
	}
	if sendImage != "" {
		fields = append(fields, [2]string{"image_position", sendPlacement})
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}

	if sendImage != "" {
		if err := attachFile(mw, "image", sendImage); err != nil {
			return nil, "", err
		}
	}
	for _, path := range sendFiles {
		if err := attachFile(mw, "files", path); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
