package sequences

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gofiber/template/html/v2"

	"github.com/ManuelReschke/ReflectCoach/app/models"
)

// messageLayout wraps every body; it calls {{embed}} and adds the footer.
const messageLayout = "layouts/message"

//go:embed templates
var templateFS embed.FS

// TemplateData holds the user-scoped variables available to every template.
type TemplateData struct {
	FirstName      string
	Email          string
	Tier           models.Tier
	AppURL         string
	UnsubscribeURL string
}

// TierLabel is the display name of the tier.
func (d TemplateData) TierLabel() string {
	switch d.Tier {
	case models.TierProPlus:
		return "Pro Plus"
	case models.TierPro:
		return "Pro"
	default:
		return "Free"
	}
}

// Renderer turns a template id into a message body. ok is false for an
// unknown template.
type Renderer interface {
	Render(templateID string, data TemplateData) (body string, ok bool, err error)
}

// HTMLRenderer renders the embedded html templates inside the message layout.
type HTMLRenderer struct {
	engine *html.Engine
}

func NewHTMLRenderer() (*HTMLRenderer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &HTMLRenderer{engine: engine}, nil
}

func (r *HTMLRenderer) Render(templateID string, data TemplateData) (string, bool, error) {
	id := strings.TrimSpace(templateID)
	if id == "" || strings.ContainsAny(id, "/.") {
		return "", false, nil
	}
	if r.engine.Templates.Lookup(id) == nil {
		return "", false, nil
	}
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, id, data, messageLayout); err != nil {
		return "", true, fmt.Errorf("render %s: %w", id, err)
	}
	return buf.String(), true, nil
}

// templateDataFor builds the variables for one user.
func templateDataFor(user *models.User, tier models.Tier, publicDomain string) TemplateData {
	base := strings.TrimRight(publicDomain, "/")
	data := TemplateData{
		FirstName: user.FirstName(),
		Email:     user.Email,
		Tier:      tier,
		AppURL:    base + "/",
	}
	if base != "" {
		data.UnsubscribeURL = base + "/settings/notifications"
	}
	return data
}
