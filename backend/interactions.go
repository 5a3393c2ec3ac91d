package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/loveai/backend/match"
)

const (
	interactionLike      = "like"
	interactionPass      = "pass"
	interactionSuperLike = "super_like"
)

var errAlreadyInteracted = errors.New("already interacted")

func isLikeType(t string) bool {
	return t == interactionLike || t == interactionSuperLike
}

type interactionResponse struct {
	ID                 int       `json:"id"`
	ToUserID           int       `json:"to_user_id"`
	InteractionType    string    `json:"interaction_type"`
	IsMatch            bool      `json:"is_match"`
	MatchID            *int      `json:"match_id"`
	CompatibilityScore *float64  `json:"compatibility_score"`
	CreatedAt          time.Time `json:"created_at"`
}

func hasLiked(ctx context.Context, q queryer, from, to int) (bool, error) {
	var liked bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM interactions
			WHERE from_user_id = $1 AND to_user_id = $2
			  AND interaction_type IN ('like', 'super_like')
		)
	`, from, to).Scan(&liked)
	return liked, err
}

// recordInteraction stores the interaction and, on a mutual like, creates the
// match. The outcome is written into resp.
func recordInteraction(ctx context.Context, tx *sql.Tx, self, target *profileRecord, kind string, verdict *match.Result, resp *interactionResponse) error {
	if err := lockPair(ctx, tx, self.UserID, target.UserID); err != nil {
		return err
	}

	var score *float64
	if verdict != nil {
		score = &verdict.Score
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO interactions (from_user_id, to_user_id, interaction_type, ai_score)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_user_id, to_user_id) DO NOTHING
		RETURNING id, created_at
	`, self.UserID, target.UserID, kind, score).Scan(&resp.ID, &resp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return errAlreadyInteracted
	}
	if err != nil {
		return err
	}

	switch kind {
	case interactionLike:
		_, err = tx.ExecContext(ctx, `UPDATE profiles SET total_likes = total_likes + 1 WHERE user_id = $1`, target.UserID)
	case interactionSuperLike:
		_, err = tx.ExecContext(ctx, `UPDATE profiles SET total_super_likes = total_super_likes + 1 WHERE user_id = $1`, target.UserID)
	}
	if err != nil {
		return err
	}
	if !isLikeType(kind) {
		return nil
	}

	mutual, err := hasLiked(ctx, tx, target.UserID, self.UserID)
	if err != nil || !mutual {
		return err
	}

	reasons, err := jsonList(verdict.Reasons)
	if err != nil {
		return err
	}
	breakers, err := jsonList(verdict.IceBreakers)
	if err != nil {
		return err
	}
	var matchID int
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO matches (user1_id, user2_id, compatibility_score, match_reasons, ice_breakers)
		VALUES (LEAST($1::int, $2::int), GREATEST($1::int, $2::int), $3, $4, $5)
		ON CONFLICT (user1_id, user2_id) DO UPDATE SET compatibility_score = EXCLUDED.compatibility_score
		RETURNING id
	`, self.UserID, target.UserID, verdict.Score, reasons, breakers).Scan(&matchID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE profiles SET total_matches = total_matches + 1 WHERE user_id IN ($1, $2)
	`, self.UserID, target.UserID); err != nil {
		return err
	}

	for _, n := range []notification{
		{UserID: self.UserID, Type: "match", Title: "It's a Match!", Body: fmt.Sprintf("You and %s liked each other!", target.Name), RelatedUserID: target.UserID, RelatedMatchID: matchID},
		{UserID: target.UserID, Type: "match", Title: "It's a Match!", Body: fmt.Sprintf("You and %s liked each other!", self.Name), RelatedUserID: self.UserID, RelatedMatchID: matchID},
	} {
		if err := insertNotification(ctx, tx, n); err != nil {
			return err
		}
	}

	resp.IsMatch = true
	resp.MatchID = &matchID
	return nil
}

// POST /discovery/interact
func (s *server) interactHandler() http.HandlerFunc {
	type interactRequest struct {
		ToUserID        int    `json:"to_user_id"`
		InteractionType string `json:"interaction_type"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req interactRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.InteractionType != interactionLike && req.InteractionType != interactionPass && req.InteractionType != interactionSuperLike {
			writeError(w, http.StatusBadRequest, "invalid_interaction_type")
			return
		}
		me := mustUserID(r)
		if req.ToUserID <= 0 || req.ToUserID == me {
			writeError(w, http.StatusBadRequest, "invalid_target")
			return
		}

		ctx := r.Context()
		self, target, err := s.loadPair(ctx, me, req.ToUserID)
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		// Model calls stay outside the transaction.
		var verdict *match.Result
		if isLikeType(req.InteractionType) {
			now := s.now()
			a, b := self.matchProfile(now), target.matchProfile(now)
			res := s.engine.Compatibility(ctx, a, b)
			if liked, err := hasLiked(ctx, s.db, target.UserID, me); err == nil && liked {
				res.IceBreakers = s.engine.IceBreakers(ctx, a, b)
			}
			verdict = &res
		}

		resp := interactionResponse{ToUserID: target.UserID, InteractionType: req.InteractionType}
		if verdict != nil {
			resp.CompatibilityScore = &verdict.Score
		}
		err = withTx(ctx, s.db, func(tx *sql.Tx) error {
			return recordInteraction(ctx, tx, self, target, req.InteractionType, verdict, &resp)
		})
		if errors.Is(err, errAlreadyInteracted) {
			writeError(w, http.StatusConflict, "already_interacted")
			return
		}
		if err != nil {
			s.log.Error("record interaction", zap.Int("user_id", me), zap.Int("target_id", target.UserID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		interactionsTotal.WithLabelValues(req.InteractionType).Inc()
		if resp.IsMatch {
			matchesFormedTotal.Inc()
			s.log.Info("match formed", zap.Int("match_id", *resp.MatchID), zap.Int("user_id", me), zap.Int("target_id", target.UserID))
			s.hub.sendToUser(me, wsEvent{Type: eventMatch, Data: map[string]any{"match_id": *resp.MatchID, "user_id": target.UserID, "name": target.Name}})
			s.hub.sendToUser(target.UserID, wsEvent{Type: eventMatch, Data: map[string]any{"match_id": *resp.MatchID, "user_id": me, "name": self.Name}})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
