package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"seawatch/internal/errs"
	"seawatch/internal/export"
	"seawatch/internal/middleware"
	"seawatch/internal/model"
	"seawatch/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ReportHandler struct {
	reportService *service.ReportService
	log           logrus.FieldLogger
}

func NewReportHandler(reportService *service.ReportService, log logrus.FieldLogger) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
		log:           log.WithField("component", "report_handler"),
	}
}

// RegisterRoutes mounts the report endpoints on rg. Public reads run behind
// public, everything that needs a caller behind protected. Static segments are
// registered ahead of /:id.
func (h *ReportHandler) RegisterRoutes(rg *gin.RouterGroup, public, protected gin.HandlersChain) {
	rg.POST("", with(protected, h.CreateReport)...)
	rg.GET("", with(public, h.ListReports)...)
	rg.GET("/my", with(protected, h.GetMyReports)...)
	rg.GET("/nearby", with(public, h.FindNearby)...)
	rg.GET("/map", with(public, h.MapReports)...)
	rg.GET("/export", with(protected, h.ExportReports)...)
	rg.GET("/:id", with(public, h.GetReportByID)...)
	rg.PUT("/:id", with(protected, h.UpdateReport)...)
	rg.PATCH("/:id", with(protected, h.UpdateReport)...)
	rg.DELETE("/:id", with(protected, h.DeleteReport)...)
	rg.PATCH("/:id/toggle-status", with(protected, h.ToggleStatus)...)
}

// with copies chain so routes never share a backing array.
func with(chain gin.HandlersChain, handler gin.HandlerFunc) gin.HandlersChain {
	handlers := make(gin.HandlersChain, 0, len(chain)+1)
	handlers = append(handlers, chain...)
	return append(handlers, handler)
}

// Handles POST /api/reports - creates a report owned by the caller.
func (h *ReportHandler) CreateReport(c *gin.Context) {
	var req model.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, malformedBody("CreateReport"))
		return
	}

	report, err := h.reportService.CreateReport(c.Request.Context(), middleware.ActorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	middleware.RecordReportCreated(string(report.Type()))
	c.JSON(http.StatusCreated, gin.H{
		"message": "Report created successfully",
		"report":  report,
	})
}

// Handles GET /api/reports - lists reports, newest first by default.
func (h *ReportHandler) ListReports(c *gin.Context) {
	list, err := h.reportService.ListReports(c.Request.Context(), middleware.ActorFrom(c), listQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Handles GET /api/reports/my - every report submitted by the caller.
func (h *ReportHandler) GetMyReports(c *gin.Context) {
	list, err := h.reportService.GetMyReports(c.Request.Context(), middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Handles GET /api/reports/nearby?lat=..&lon=..&maxDistance=..
func (h *ReportHandler) FindNearby(c *gin.Context) {
	lon := c.Query("lon")
	if lon == "" {
		lon = c.Query("lng")
	}

	list, err := h.reportService.FindNearby(c.Request.Context(), model.NearbyQuery{
		Latitude:    model.LooseFloatOf(c.Query("lat")),
		Longitude:   model.LooseFloatOf(lon),
		MaxDistance: model.LooseFloatOf(c.Query("maxDistance")),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	middleware.RecordNearbySearch(list.Count)
	c.JSON(http.StatusOK, list)
}

// Handles GET /api/reports/map - active reports as a GeoJSON FeatureCollection.
func (h *ReportHandler) MapReports(c *gin.Context) {
	reports, err := h.reportService.MapReports(c.Request.Context(), listQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, export.FeatureCollection(reports))
}

// Handles GET /api/reports/export - admin spreadsheet download.
func (h *ReportHandler) ExportReports(c *gin.Context) {
	reports, err := h.reportService.ExportReports(c.Request.Context(), middleware.ActorFrom(c), listQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}

	now := time.Now().UTC()
	f, err := export.Workbook(reports, now)
	if err != nil {
		h.log.WithError(err).Error("failed to build export workbook")
		respondError(c, errs.E(errs.KindInternal, "ExportReports", "internal server error", err))
		return
	}
	defer f.Close()

	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(now)+`"`)
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		h.log.WithError(err).Error("failed to stream export workbook")
	}
}

// Handles GET /api/reports/:id
func (h *ReportHandler) GetReportByID(c *gin.Context) {
	report, err := h.reportService.GetReportByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Handles PUT and PATCH /api/reports/:id - partial update by the owner or an admin.
func (h *ReportHandler) UpdateReport(c *gin.Context) {
	decode := func(req *model.UpdateReportRequest) error {
		if err := c.ShouldBindJSON(req); err != nil {
			return malformedBody("UpdateReport")
		}
		return nil
	}

	report, err := h.reportService.UpdateReportFrom(c.Request.Context(), middleware.ActorFrom(c), c.Param("id"), decode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Report updated successfully",
		"report":  report,
	})
}

// Handles DELETE /api/reports/:id
func (h *ReportHandler) DeleteReport(c *gin.Context) {
	if err := h.reportService.DeleteReport(c.Request.Context(), middleware.ActorFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Report deleted successfully"})
}

// Handles PATCH /api/reports/:id/toggle-status - admin only.
func (h *ReportHandler) ToggleStatus(c *gin.Context) {
	result, err := h.reportService.ToggleActive(c.Request.Context(), middleware.ActorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func listQuery(c *gin.Context) model.ListReportsQuery {
	includeInactive, _ := strconv.ParseBool(strings.TrimSpace(c.Query("includeInactive")))
	return model.ListReportsQuery{
		Type:            c.Query("type"),
		Severity:        c.Query("severity"),
		Limit:           c.Query("limit"),
		IncludeInactive: includeInactive,
		Sort:            c.Query("sort"),
	}
}

func malformedBody(op string) error {
	return errs.Validation(op, []errs.FieldError{{
		Field:   "body",
		Message: "request body must be a valid JSON object",
	}})
}

func respondError(c *gin.Context, err error) {
	c.JSON(errs.ResponseOf(err))
}
