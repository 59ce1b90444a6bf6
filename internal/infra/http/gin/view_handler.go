package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	domainanalytics "neighborhub/internal/domain/analytics"
	domainuser "neighborhub/internal/domain/user"
)

// ViewTracker accepts product views without blocking.
type ViewTracker interface {
	Track(view domainanalytics.ProductView) bool
}

// ViewHandler records product page impressions. The response never waits on
// storage and a dropped view is not an error for the caller.
type ViewHandler struct {
	Tracker ViewTracker
	Logger  *slog.Logger
}

type trackViewRequest struct {
	ProductID   string `json:"productId"`
	ProductType string `json:"productType"`
}

func (h ViewHandler) Track(c *gin.Context) {
	var req trackViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	productType, err := domainanalytics.ParseProductType(req.ProductType)
	if err != nil {
		respondError(c, h.Logger, "track view", err)
		return
	}
	view := domainanalytics.ProductView{
		ProductID:   strings.TrimSpace(req.ProductID),
		ProductType: productType,
		ViewerRole:  domainanalytics.ViewerAnonymous,
	}
	if err := view.Validate(); err != nil {
		respondError(c, h.Logger, "track view", err)
		return
	}
	if p, ok := currentPrincipal(c); ok {
		view.ViewedBy = p.ID
		view.ViewerRole = viewerRole(p)
	}
	accepted := false
	if h.Tracker != nil {
		accepted = h.Tracker.Track(view)
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

// viewerRole picks the most privileged role the principal holds.
func viewerRole(p principal) domainanalytics.ViewerRole {
	switch {
	case p.HasRole(domainuser.RoleAdmin):
		return domainanalytics.ViewerAdmin
	case p.HasRole(domainuser.RoleSeller):
		return domainanalytics.ViewerSeller
	case p.HasRole(domainuser.RoleBuyer):
		return domainanalytics.ViewerBuyer
	default:
		return domainanalytics.ViewerAnonymous
	}
}

var _ ViewHTTP = (*ViewHandler)(nil)
