package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

// ServerName is reported to MCP clients during initialize.
const ServerName = "rodprovider"

// Driver is the browser surface the tools use. *Browser implements it.
type Driver interface {
	Navigate(ctx context.Context, rawURL string) (*PageInfo, error)
	Text(ctx context.Context, selector string) (string, error)
	Links(ctx context.Context) ([]Link, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Eval(ctx context.Context, script string) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	Blank(ctx context.Context) error
}

// blankURL is where a fresh tab sits and where a blocked page is replaced.
const blankURL = "about:blank"

type toolHandler = func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// NewServer returns an MCP server exposing the browser tools. Every request
// is checked against policy before it reaches d.
func NewServer(d Driver, policy *Policy, version string, logger zerolog.Logger) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(ServerName, version, mcpserver.WithToolCapabilities(false))
	h := &handlers{driver: d, policy: policy, logger: logger}

	srv.AddTool(mcp.NewTool("browser_navigate",
		mcp.WithDescription("Open a URL in the browser and wait for it to load. Returns the final URL and page title."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute http or https URL")),
	), h.wrap("browser_navigate", h.navigate))

	srv.AddTool(mcp.NewTool("browser_text",
		mcp.WithDescription("Return the visible text of the current page, or of the first element matching a CSS selector."),
		mcp.WithString("selector", mcp.Description("Optional CSS selector")),
	), h.wrap("browser_text", h.text))

	srv.AddTool(mcp.NewTool("browser_links",
		mcp.WithDescription("List the links on the current page as JSON objects with href and text."),
	), h.wrap("browser_links", h.links))

	srv.AddTool(mcp.NewTool("browser_click",
		mcp.WithDescription("Click the first element matching a CSS selector."),
		mcp.WithString("selector", mcp.Required(), mcp.Description("CSS selector")),
	), h.wrap("browser_click", h.click))

	srv.AddTool(mcp.NewTool("browser_type",
		mcp.WithDescription("Replace the value of an input element with the given text."),
		mcp.WithString("selector", mcp.Required(), mcp.Description("CSS selector of the input")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to type")),
	), h.wrap("browser_type", h.typeText))

	srv.AddTool(mcp.NewTool("browser_screenshot",
		mcp.WithDescription("Capture the visible part of the current page as a PNG image."),
	), h.wrap("browser_screenshot", h.screenshot))

	srv.AddTool(mcp.NewTool("browser_eval",
		mcp.WithDescription("Evaluate a JavaScript function expression such as () => document.title on the current page and return its JSON result."),
		mcp.WithString("script", mcp.Required(), mcp.Description("JavaScript function expression")),
	), h.wrap("browser_eval", h.eval))

	return srv
}

type handlers struct {
	driver Driver
	policy *Policy
	logger zerolog.Logger
}

// wrap turns handler errors into error results so the calling model sees
// the message instead of a protocol failure.
func (h *handlers) wrap(name string, fn toolHandler) toolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := fn(ctx, req)
		if err != nil {
			code := ""
			var be *Error
			if errors.As(err, &be) {
				code = be.Code
			}
			h.logger.Warn().Err(err).Str("tool", name).Str("code", code).Msg("Browser tool failed")
			return mcp.NewToolResultError(err.Error()), nil
		}
		h.logger.Debug().Str("tool", name).Msg("Browser tool succeeded")
		return res, nil
	}
}

func stringArg(req mcp.CallToolRequest, key string) string {
	return cast.ToString(req.GetArguments()[key])
}

func requiredArg(req mcp.CallToolRequest, key string) (string, error) {
	v := stringArg(req, key)
	if v == "" {
		return "", newError(ErrCodeValidation, nil, "Missing required argument %q", key)
	}
	return v, nil
}

func (h *handlers) navigate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := requiredArg(req, "url")
	if err != nil {
		return nil, err
	}
	if err := h.policy.CheckURL(rawURL); err != nil {
		return nil, err
	}
	info, err := h.driver.Navigate(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if err := h.checkLanding(ctx, info.URL); err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Navigated to %s\nTitle: %s", info.URL, info.Title)), nil
}

// checkLanding applies the URL policy to the page the tab ended up on.
// Redirects and clicked links can leave the allowed set, so a blocked page
// is replaced with about:blank before the error is returned.
func (h *handlers) checkLanding(ctx context.Context, landed string) error {
	if landed == "" || landed == blankURL {
		return nil
	}
	err := h.policy.CheckURL(landed)
	if err == nil {
		return nil
	}
	if blankErr := h.driver.Blank(ctx); blankErr != nil {
		h.logger.Error().Err(blankErr).Str("url", landed).Msg("Failed to leave blocked page")
	}
	return newError(ErrCodeSecurity, err, "Page ended up at a blocked URL %s", landed)
}

func (h *handlers) text(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	selector := stringArg(req, "selector")
	if selector != "" {
		if err := h.policy.CheckSelector(selector); err != nil {
			return nil, err
		}
	}
	text, err := h.driver.Text(ctx, selector)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(text), nil
}

func (h *handlers) links(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	links, err := h.driver.Links(ctx)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []Link{}
	}
	data, err := json.Marshal(links)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *handlers) click(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	selector, err := requiredArg(req, "selector")
	if err != nil {
		return nil, err
	}
	if err := h.policy.CheckSelector(selector); err != nil {
		return nil, err
	}
	if err := h.driver.Click(ctx, selector); err != nil {
		return nil, err
	}
	landed, err := h.driver.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.checkLanding(ctx, landed); err != nil {
		return nil, err
	}
	return mcp.NewToolResultText("Clicked " + selector), nil
}

func (h *handlers) typeText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	selector, err := requiredArg(req, "selector")
	if err != nil {
		return nil, err
	}
	if err := h.policy.CheckSelector(selector); err != nil {
		return nil, err
	}
	// Empty text is allowed and clears the field.
	text := stringArg(req, "text")
	if err := h.driver.Type(ctx, selector, text); err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Typed %d characters into %s", len([]rune(text)), selector)), nil
}

func (h *handlers) screenshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := h.driver.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultImage("Screenshot of the current page", base64.StdEncoding.EncodeToString(data), "image/png"), nil
}

func (h *handlers) eval(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	script := stringArg(req, "script")
	if err := h.policy.CheckScript(script); err != nil {
		return nil, err
	}
	out, err := h.driver.Eval(ctx, script)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(out), nil
}
