// Package lichess fetches a user's recent games and extracts the per-ply
// positions the analysis pipeline consumes.
package lichess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/notation"
	"github.com/gamereview/api/internal/review"
)

// ErrFetch marks upstream failures; a job that hits one fails as a whole.
var ErrFetch = errors.New("upstream fetch failed")

// Config configures the games client.
type Config struct {
	BaseURL  string // e.g. https://lichess.org/api
	APIToken string // optional bearer token
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Client fetches finished blitz/rapid games for a user as PGN and replays
// them into ordered per-ply records.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a games client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://lichess.org/api"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  cfg.Logger,
	}
}

// FetchGames returns the user's last maxGames finished blitz/rapid games,
// most recent first, with every ply's pre-move FEN extracted.
func (c *Client) FetchGames(ctx context.Context, username string, maxGames int) ([]review.Game, error) {
	pgnText, err := c.fetchPGN(ctx, username, maxGames)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(pgnText) == "" {
		c.log.Warn().Str("username", username).Msg("no games returned")
		return nil, nil
	}

	games, err := parseGames(pgnText)
	if err != nil {
		return nil, fmt.Errorf("%w: parse PGN: %v", ErrFetch, err)
	}

	c.log.Info().Str("username", username).Int("games", len(games)).Msg("fetched games")
	return games, nil
}

func (c *Client) fetchPGN(ctx context.Context, username string, maxGames int) (string, error) {
	endpoint := fmt.Sprintf("%s/games/user/%s", c.cfg.BaseURL, url.PathEscape(username))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}

	q := req.URL.Query()
	q.Set("max", fmt.Sprintf("%d", maxGames))
	q.Set("perfType", "blitz,rapid")
	q.Set("ongoing", "false")
	q.Set("finished", "true")
	q.Set("sort", "dateDesc")
	q.Set("clocks", "false")
	q.Set("evals", "false")
	q.Set("opening", "false")
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Accept", "application/x-chess-pgn")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrFetch, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	return string(body), nil
}

// parseGames replays a multi-game PGN stream. The parser works on files, so
// the stream goes through a temp file first.
func parseGames(pgnText string) ([]review.Game, error) {
	tmp, err := os.CreateTemp("", "games-*.pgn")
	if err != nil {
		return nil, err
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.WriteString(pgnText); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	parser := pgn.Games(path)

	var games []review.Game
	idx := 0
	for game := range parser.Games {
		idx++
		games = append(games, replayGame(game, idx))
	}
	if err := parser.Err(); err != nil {
		return nil, err
	}
	return games, nil
}

// replayGame walks the game from the starting position, recording each
// ply's pre-move FEN and the played move in SAN and UCI.
func replayGame(game *pgn.Game, idx int) review.Game {
	out := review.Game{
		ID:          gameID(game, idx),
		TimeControl: timeControl(game),
	}

	pos := pgn.NewStartingPosition()
	for i, mv := range game.Moves {
		out.Plies = append(out.Plies, review.Ply{
			FEN:        pos.ToFEN(),
			MoveNumber: i + 1,
			PlayedSAN:  notation.ToSAN(pos, mv),
			PlayedUCI:  notation.ToUCI(mv),
		})
		if err := pgn.ApplyMove(pos, mv); err != nil {
			break
		}
	}
	return out
}

// gameID prefers the lichess game URL's last path segment, then explicit
// id tags, then a positional fallback.
func gameID(game *pgn.Game, idx int) string {
	if site := game.Tags["Site"]; strings.Contains(site, "/") {
		if id := filepath.Base(site); id != "" && id != "." && id != "/" {
			return id
		}
	}
	if id := game.Tags["GameId"]; id != "" {
		return id
	}
	return fmt.Sprintf("game-%d", idx)
}

func timeControl(game *pgn.Game) string {
	if tc := game.Tags["TimeControl"]; tc != "" && tc != "-" {
		return tc
	}
	if ev := game.Tags["Event"]; ev != "" {
		return ev
	}
	return "unknown"
}
