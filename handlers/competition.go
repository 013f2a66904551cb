package handlers

import (
	"competition-engine/middleware"
	"competition-engine/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type CompetitionHandler struct {
	Service *services.CompetitionService
}

func NewCompetitionHandler(s *services.CompetitionService) *CompetitionHandler {
	return &CompetitionHandler{Service: s}
}

// SetupCompetitionRoutes registers the competition API. Player and operator
// routes carry their own guards.
func SetupCompetitionRoutes(app *fiber.App, h *CompetitionHandler) {
	user := middleware.RequireUser()
	admin := middleware.RequireRole(middleware.RoleAdmin)

	app.Get("/competitions", h.ListCompetitions)
	app.Get("/competitions/:id", h.GetCompetition)
	app.Get("/competitions/:id/leaderboard", h.Leaderboard)
	app.Get("/leaderboards/:kind", h.CurrentLeaderboard)

	// Players
	app.Post("/competitions/:id/join", user, h.JoinCompetition)
	app.Post("/sessions", user, h.StartSession)
	app.Post("/sessions/:id/complete", user, h.CompleteSession)

	// Operators
	app.Post("/competitions", user, admin, h.CreateCompetition)
	app.Post("/competitions/:id/finalize", user, admin, h.ForceFinalize)
	app.Post("/competitions/:id/activate", user, admin, h.ForceActivate)
	app.Get("/competitions/:id/attempts", user, admin, h.ListAttempts)
	app.Post("/competitions/:id/participants/:user_id/paid", user, admin, h.MarkPrizePaid)
	app.Post("/leaderboards/:kind/publish", user, admin, h.PublishLeaderboard)
	app.Get("/alerts", user, admin, h.ListAlerts)
}

func (h *CompetitionHandler) CreateCompetition(c *fiber.Ctx) error {
	var in services.CreateCompetitionInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}

	comp, err := h.Service.CreateCompetition(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comp)
}

func (h *CompetitionHandler) ListCompetitions(c *fiber.Ctx) error {
	list, err := h.Service.ListCompetitions(c.UserContext(), services.ListCompetitionsInput{
		Kind:   c.Query("kind"),
		Status: c.Query("status"),
		Limit:  c.QueryInt("limit", 0),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"competitions": list})
}

func (h *CompetitionHandler) GetCompetition(c *fiber.Ctx) error {
	comp, err := h.Service.GetCompetition(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comp)
}

func (h *CompetitionHandler) JoinCompetition(c *fiber.Ctx) error {
	p, err := h.Service.JoinCompetition(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *CompetitionHandler) ForceFinalize(c *fiber.Ctx) error {
	res, err := h.Service.ForceFinalize(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (h *CompetitionHandler) ForceActivate(c *fiber.Ctx) error {
	comp, err := h.Service.ForceActivate(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comp)
}

func (h *CompetitionHandler) Leaderboard(c *fiber.Ctx) error {
	entries, err := h.Service.Leaderboard(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"competition_id": c.Params("id"), "entries": entries})
}

func (h *CompetitionHandler) ListAttempts(c *fiber.Ctx) error {
	attempts, err := h.Service.ListAttempts(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"attempts": attempts})
}

type startSessionRequest struct {
	CompetitionID *string `json:"competition_id"`
}

func (h *CompetitionHandler) StartSession(c *fiber.Ctx) error {
	var req startSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	session, err := h.Service.StartSession(c.UserContext(), middleware.UserID(c), req.CompetitionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

type completeSessionRequest struct {
	Score *decimal.Decimal `json:"score"`
}

func (h *CompetitionHandler) CompleteSession(c *fiber.Ctx) error {
	var req completeSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Score == nil {
		return badRequest(c, "score is required")
	}

	out, err := h.Service.CompleteSession(c.UserContext(), c.Params("id"), middleware.UserID(c), *req.Score)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

type markPaidRequest struct {
	Reference string `json:"reference"`
}

func (h *CompetitionHandler) MarkPrizePaid(c *fiber.Ctx) error {
	var req markPaidRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	p, err := h.Service.MarkPrizePaid(c.UserContext(), c.Params("id"), c.Params("user_id"), req.Reference)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

func (h *CompetitionHandler) PublishLeaderboard(c *fiber.Ctx) error {
	board, err := h.Service.PublishLeaderboard(c.UserContext(), c.Params("kind"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(board)
}

func (h *CompetitionHandler) CurrentLeaderboard(c *fiber.Ctx) error {
	board, err := h.Service.CurrentLeaderboard(c.UserContext(), c.Params("kind"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(board)
}

func (h *CompetitionHandler) ListAlerts(c *fiber.Ctx) error {
	alerts, err := h.Service.ListAlerts(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"alerts": alerts})
}
