package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chatphantom/phantomchat/internal/domain/phantom/models"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func phantomPath(id string) string {
	return "/phantoms/" + url.PathEscape(id)
}

// ListPhantoms returns the phantoms owned by the current user.
func (c *Client) ListPhantoms(ctx context.Context) ([]models.Phantom, error) {
	userID, err := c.UserID()
	if err != nil {
		return nil, err
	}

	var phantoms []models.Phantom
	query := url.Values{"user_id": {userID}}
	if err := c.doJSON(ctx, http.MethodGet, "/phantoms", query, nil, &phantoms, groupPhantoms); err != nil {
		if errors.Is(err, errEmptyBody) {
			return nil, nil
		}
		return nil, fmt.Errorf("list phantoms: %w", err)
	}
	return phantoms, nil
}

// CreatePhantom registers a new phantom. The website URL gets https:// when
// no scheme is given.
func (c *Client) CreatePhantom(ctx context.Context, name, websiteURL string) (*models.Phantom, error) {
	userID, err := c.UserID()
	if err != nil {
		return nil, err
	}

	req := models.CreateRequest{
		UserID:     userID,
		Name:       strings.TrimSpace(name),
		WebsiteURL: models.NormalizeWebsiteURL(websiteURL),
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	var created models.Phantom
	if err := c.doJSON(ctx, http.MethodPost, "/phantoms", nil, req, &created, groupPhantoms); err != nil {
		if !errors.Is(err, errEmptyBody) {
			return nil, fmt.Errorf("create phantom: %w", err)
		}
	}
	if created.Name == "" {
		created.Name = req.Name
	}
	if created.WebsiteURL == "" {
		created.WebsiteURL = req.WebsiteURL
	}
	return &created, nil
}

// RenamePhantom changes a phantom's display name.
func (c *Client) RenamePhantom(ctx context.Context, id, name string) (*models.Phantom, error) {
	req := models.UpdateRequest{Name: strings.TrimSpace(name)}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	updated := models.Phantom{ID: id}
	if err := c.doJSON(ctx, http.MethodPut, phantomPath(id), nil, req, &updated, groupPhantoms); err != nil {
		if !errors.Is(err, errEmptyBody) {
			return nil, fmt.Errorf("rename phantom %s: %w", id, err)
		}
	}
	if updated.Name == "" {
		updated.Name = req.Name
	}
	return &updated, nil
}

// DeletePhantom removes a phantom.
func (c *Client) DeletePhantom(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, phantomPath(id), nil, nil, nil, groupPhantoms); err != nil {
		return fmt.Errorf("delete phantom %s: %w", id, err)
	}
	return nil
}

// Recrawl asks the backend to rebuild a phantom's index.
func (c *Client) Recrawl(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodPost, phantomPath(id)+"/recrawl", nil, nil, nil, groupPhantoms); err != nil {
		return fmt.Errorf("recrawl phantom %s: %w", id, err)
	}
	return nil
}
