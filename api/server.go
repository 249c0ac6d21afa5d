// Package api exposes experiment evaluation over HTTP. It is a thin
// collaborator: it decodes the request, builds an experiment.Config, and
// hands everything to the runner. Malformed JSON never reaches the core.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kmellis/splitz/aggregate"
	"github.com/kmellis/splitz/bayesian"
	"github.com/kmellis/splitz/bucketing"
	"github.com/kmellis/splitz/corrections"
	"github.com/kmellis/splitz/experiment"
	"github.com/kmellis/splitz/frequentist"
)

// RunRequest is the POST /run-test body. Zero-valued fields fall back to
// the platform defaults.
type RunRequest struct {
	Records []aggregate.SubjectRecord `json:"records" binding:"required"`
	Groups  string                    `json:"groups" binding:"required"`

	Method            string  `json:"method"`
	Alpha             float64 `json:"alpha"`
	Tails             string  `json:"tails"`
	Sequential        bool    `json:"sequential"`
	StoppingThreshold float64 `json:"stopping_threshold"`
	Correction        string  `json:"correction"`

	PriorSuccesses int    `json:"prior_successes"`
	PriorTrials    int    `json:"prior_trials"`
	Samples        int    `json:"samples"`
	Uplift         string `json:"uplift"`
}

type Server struct {
	router *gin.Engine
	logger zerolog.Logger
}

func NewServer(logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router: gin.New(),
		logger: logger,
	}
	s.router.Use(gin.Recovery())
	s.router.GET("/healthz", s.handleHealth)
	s.router.POST("/run-test", s.handleRunTest)
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("api-listening")
	return s.router.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRunTest(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}
	cfg, err := buildConfig(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runner, err := experiment.NewRunner(cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := s.logger.WithContext(c.Request.Context())
	report, err := runner.Run(ctx, req.Records)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, aggregate.ErrInvalidOutcome) || errors.Is(err, bucketing.ErrUnassignedBucket) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().
		Int("records", len(req.Records)).
		Int("groups", len(report.Groups)).
		Msg("run-test-complete")
	c.JSON(http.StatusOK, gin.H{"result": report})
}

func buildConfig(req *RunRequest) (experiment.Config, error) {
	ranges, err := bucketing.ParseGroupRanges(req.Groups, bucketing.DefaultBucketCount)
	if err != nil {
		return experiment.Config{}, err
	}
	cfg := experiment.DefaultConfig(ranges)
	if req.Method != "" {
		if cfg.Method, err = experiment.MethodFromString(req.Method); err != nil {
			return experiment.Config{}, err
		}
	}
	if req.Alpha != 0 {
		cfg.Alpha = req.Alpha
	}
	if req.Tails != "" {
		if cfg.Tails, err = frequentist.TailsFromString(req.Tails); err != nil {
			return experiment.Config{}, err
		}
	}
	cfg.Sequential = req.Sequential
	cfg.StoppingThreshold = req.StoppingThreshold
	if req.Correction != "" {
		if cfg.Correction, err = corrections.MethodFromString(req.Correction); err != nil {
			return experiment.Config{}, err
		}
	}
	if req.PriorTrials != 0 {
		cfg.PriorSuccesses = req.PriorSuccesses
		cfg.PriorTrials = req.PriorTrials
	}
	if req.Samples != 0 {
		cfg.Samples = req.Samples
	}
	if req.Uplift != "" {
		if cfg.Uplift, err = bayesian.UpliftMethodFromString(req.Uplift); err != nil {
			return experiment.Config{}, err
		}
	}
	return cfg, nil
}
