package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hashangit/seo-pro/internal/auditlog"
	creditrequestdomain "github.com/hashangit/seo-pro/internal/creditrequest/domain"
	"github.com/hashangit/seo-pro/internal/pricing"
)

func (s *Server) GetBalance(c *gin.Context) {
	balance, err := s.ledgerSvc.Balance(c.Request.Context(), s.subject(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"balance":  balance,
		"cost_usd": pricing.CostUSD(balance),
	}})
}

func (s *Server) ListTransactions(c *gin.Context) {
	limit, offset := parsePage(c)
	transactions, err := s.ledgerSvc.Transactions(c.Request.Context(), s.subject(c), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(transactions))
	for _, txn := range transactions {
		items = append(items, gin.H{
			"id":             txn.ID.String(),
			"amount":         txn.Amount,
			"reference_type": txn.ReferenceType,
			"reference_id":   txn.ReferenceID,
			"description":    txn.Description,
			"created_at":     txn.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

type creditRequestRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

func (s *Server) CreateCreditRequest(c *gin.Context) {
	var req creditRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	request, err := s.creditRequestSvc.Create(c.Request.Context(), s.subject(c), req.Amount, req.Note)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recorder.Record(c.Request.Context(), auditlog.Entry{
		Action:     auditlog.ActionCreditRequestCreated,
		TargetType: auditlog.TargetTypeCreditRequest,
		TargetID:   request.ID.String(),
		Metadata:   map[string]any{"amount": req.Amount},
	})

	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"request_id": request.ID.String(),
		"amount":     request.Amount,
		"status":     request.Status,
		"created_at": request.CreatedAt,
	}})
}

func (s *Server) ListCreditRequests(c *gin.Context) {
	limit, offset := parsePage(c)
	requests, err := s.creditRequestSvc.List(c.Request.Context(), s.subject(c), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": creditRequestViews(requests)})
}

func (s *Server) ListPendingCreditRequests(c *gin.Context) {
	limit, offset := parsePage(c)
	requests, err := s.creditRequestSvc.ListPending(c.Request.Context(), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": creditRequestViews(requests)})
}

func (s *Server) ApproveCreditRequest(c *gin.Context) {
	s.decideCreditRequest(c, true)
}

func (s *Server) RejectCreditRequest(c *gin.Context) {
	s.decideCreditRequest(c, false)
}

func (s *Server) decideCreditRequest(c *gin.Context, approve bool) {
	requestID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	decidedBy := c.GetString(contextEmailKey)
	if decidedBy == "" {
		decidedBy = s.subject(c)
	}

	var request any
	var action string
	if approve {
		request, err = s.creditRequestSvc.Approve(c.Request.Context(), requestID, decidedBy)
		action = auditlog.ActionCreditRequestApproved
	} else {
		request, err = s.creditRequestSvc.Reject(c.Request.Context(), requestID, decidedBy)
		action = auditlog.ActionCreditRequestRejected
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recorder.Record(c.Request.Context(), auditlog.Entry{
		ActorType:  auditlog.ActorTypeAdmin,
		ActorID:    decidedBy,
		Action:     action,
		TargetType: auditlog.TargetTypeCreditRequest,
		TargetID:   requestID.String(),
	})

	c.JSON(http.StatusOK, gin.H{"data": request})
}

func creditRequestViews(requests []creditrequestdomain.CreditRequest) []gin.H {
	items := make([]gin.H, 0, len(requests))
	for _, request := range requests {
		items = append(items, gin.H{
			"request_id": request.ID.String(),
			"subject":    request.Subject,
			"amount":     request.Amount,
			"note":       request.Note,
			"status":     request.Status,
			"decided_by": request.DecidedBy,
			"decided_at": request.DecidedAt,
			"created_at": request.CreatedAt,
		})
	}
	return items
}
