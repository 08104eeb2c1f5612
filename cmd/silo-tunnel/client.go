package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/EternisAI/silo-tunnel/internal/api/http/dto"
	"github.com/EternisAI/silo-tunnel/internal/api/http/middleware"
	"github.com/spf13/cobra"
)

type apiClient struct {
	server string
	apiKey string
	http   *http.Client
}

func newAPIClient(server, apiKey string) *apiClient {
	return &apiClient{
		server: strings.TrimRight(server, "/"),
		apiKey: apiKey,
		http:   &http.Client{},
	}
}

// call sends in as JSON (when non-nil) and decodes a 2xx body into out.
func (c *apiClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(middleware.APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp dto.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", errResp.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func printStatus(w io.Writer, s dto.StatusResponse) {
	if s.Name == nil {
		fmt.Fprintln(w, "inactive")
		return
	}
	state := "inactive"
	if s.IsActive {
		state = "active"
	}
	fmt.Fprintf(w, "%s %s\n", *s.Name, state)
}

func newClientCmds(opts *rootOptions) []*cobra.Command {
	client := func() *apiClient { return newAPIClient(opts.server, opts.apiKey) }

	var setupReq dto.SetupRequest
	setupCmd := &cobra.Command{
		Use:   "setup <server-ip>",
		Short: "Provision a remote server and store its tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := setupReq
			req.ServerIP = args[0]
			var resp dto.SetupResponse
			if err := client().call(cmd.Context(), http.MethodPost, "/api/v1/servers/setup", req, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tunnel %q ready (client %s, listen port %d)\n", resp.Tunnel.Name, resp.Tunnel.ClientIP, resp.Tunnel.ListenPort)
			if !resp.Hardened {
				fmt.Fprintln(out, "Warning: SSH hardening was not confirmed on the server")
			}
			fmt.Fprintln(out, "Workflow:", resp.WorkflowID)
			return nil
		},
	}
	setupCmd.Flags().StringVarP(&setupReq.KeyFile, "key-file", "i", "", "SSH private key file")
	setupCmd.Flags().StringVarP(&setupReq.User, "user", "u", "", "SSH user (default from ssh.user)")
	setupCmd.Flags().StringVar(&setupReq.Name, "name", "", "display name (default: the server IP)")
	setupCmd.Flags().IntVarP(&setupReq.Port, "port", "p", 0, "SSH port (default from ssh.port)")
	_ = setupCmd.MarkFlagRequired("key-file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List known tunnels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.TunnelsResponse
			if err := client().call(cmd.Context(), http.MethodGet, "/api/v1/tunnels", nil, &resp); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPUBLIC IP\tCLIENT IP\tPORT\tACTIVE")
			for _, t := range resp.Tunnels {
				active := ""
				if t.Active {
					active = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.Name, t.PublicIP, t.ClientIP, t.ListenPort, active)
			}
			return w.Flush()
		},
	}

	connectCmd := &cobra.Command{
		Use:   "connect <server-ip>",
		Short: "Start the tunnel to a provisioned server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.StatusResponse
			if err := client().call(cmd.Context(), http.MethodPost, "/api/v1/tunnels/"+args[0]+"/start", nil, &resp); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Stop the active tunnel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.StatusResponse
			if err := client().call(cmd.Context(), http.MethodPost, "/api/v1/tunnels/stop", nil, &resp); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	quickCmd := &cobra.Command{
		Use:   "quick-connect",
		Short: "Start the tunnel to the first known server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.QuickConnectResponse
			if err := client().call(cmd.Context(), http.MethodPost, "/api/v1/tunnels/quick-connect", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", resp.ConfigName)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [server-ip]",
		Short: "Show the active tunnel, or query the OS for one tunnel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/tunnels/active"
			if len(args) == 1 {
				path = "/api/v1/tunnels/" + args[0] + "/status"
			}
			var resp dto.StatusResponse
			if err := client().call(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	return []*cobra.Command{setupCmd, listCmd, connectCmd, disconnectCmd, quickCmd, statusCmd}
}
