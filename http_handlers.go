// this file contains the REST API - every queue mutation lands here, commits
// through the store/ledger and is then published to the playlist room
package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
)

type Router struct {
	repo      Repository
	store     *QueueStore
	ledger    *VoteLedger
	hub       *Hub
	jwtSecret []byte
	logger    *log.Logger
}

func NewHTTPRouter(repo Repository, store *QueueStore, ledger *VoteLedger, hub *Hub, jwtSecret []byte, logger *log.Logger) *echo.Echo {
	rt := &Router{
		repo:      repo,
		store:     store,
		ledger:    ledger,
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    logger.With("component", "http"),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status}\n",
	}))
	e.HTTPErrorHandler = rt.errorHandler

	api := e.Group("/api")
	api.GET("/health", rt.healthHandler)
	api.GET("/socket", rt.socketHandler)
	// token-optional like the socket: anonymous viewers can fetch the
	// snapshot they need to follow a room
	api.GET("/playlists/:id/songs", rt.listSongsHandler)

	authGroup := api.Group("/auth")
	authGroup.POST("/register", rt.registerHandler)
	authGroup.POST("/login", rt.loginHandler)
	authGroup.GET("/session", rt.sessionHandler)

	playlistGroup := api.Group("/playlists")
	playlistGroup.Use(middleware.JWT(jwtSecret))
	{
		playlistGroup.POST("", rt.createPlaylistHandler)
		playlistGroup.GET("", rt.listPlaylistsHandler)
		playlistGroup.GET("/:id", rt.getPlaylistHandler)
		playlistGroup.DELETE("/:id", rt.deletePlaylistHandler)
		playlistGroup.PUT("/:id/autoplay", rt.setAutoplayHandler)
		playlistGroup.POST("/:id/songs", rt.addSongHandler)
	}

	songGroup := api.Group("/songs")
	songGroup.Use(middleware.JWT(jwtSecret))
	{
		songGroup.POST("/:id/vote", rt.voteSongHandler)
		songGroup.DELETE("/:id", rt.removeSongHandler)
		songGroup.PUT("/:id/playing", rt.setPlayingHandler)
	}

	return e
}

// errorHandler maps the core error taxonomy onto HTTP statuses in one place.
func (rt *Router) errorHandler(err error, c echo.Context) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		status = http.StatusBadGateway
	default:
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			c.Echo().DefaultHTTPErrorHandler(err, c)
			return
		}
		rt.logger.Error("request failed", "uri", c.Request().RequestURI, "err", err)
	}
	if !c.Response().Committed {
		_ = c.JSON(status, echo.Map{"message": err.Error()})
	}
}

func (rt *Router) healthHandler(c echo.Context) error {
	return c.String(http.StatusOK, "I am up and running!")
}

func (rt *Router) socketHandler(c echo.Context) error {
	userID := rt.optionalIdentity(c)
	return rt.hub.ServeWS(c, uuid.NewString(), userID)
}

func (rt *Router) createPlaylistHandler(c echo.Context) error {
	form := struct {
		Name        string `json:"name" form:"name"`
		Description string `json:"description" form:"description"`
		IsPublic    *bool  `json:"isPublic" form:"isPublic"`
	}{}
	if err := c.Bind(&form); err != nil || form.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "a playlist name is required"})
	}
	isPublic := true
	if form.IsPublic != nil {
		isPublic = *form.IsPublic
	}

	now := time.Now().UTC()
	playlist := Playlist{
		ID:          uuid.NewString(),
		Name:        form.Name,
		Description: form.Description,
		OwnerID:     userIDFromContext(c),
		IsPublic:    isPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := rt.repo.InsertPlaylist(c.Request().Context(), playlist); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, playlist)
}

func (rt *Router) listPlaylistsHandler(c echo.Context) error {
	playlists, err := rt.repo.GetVisiblePlaylists(c.Request().Context(), userIDFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"playlists": playlists})
}

func (rt *Router) getPlaylistHandler(c echo.Context) error {
	playlist, err := rt.repo.GetPlaylistByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, playlist)
}

func (rt *Router) deletePlaylistHandler(c echo.Context) error {
	ctx := c.Request().Context()
	playlistID := c.Param("id")

	playlist, err := rt.repo.GetPlaylistByID(ctx, playlistID)
	if err != nil {
		return err
	}
	if playlist.OwnerID != userIDFromContext(c) {
		return ErrForbidden
	}

	if err := rt.repo.DeleteVotesByPlaylist(ctx, playlistID); err != nil {
		return err
	}
	if err := rt.repo.DeleteSongsByPlaylist(ctx, playlistID); err != nil {
		return err
	}
	if err := rt.repo.DeletePlaylist(ctx, playlistID); err != nil {
		return err
	}
	rt.hub.Publish(playlistID, QueueUpdateEvent(playlistID, []SongWithVotes{}))
	return c.NoContent(http.StatusNoContent)
}

func (rt *Router) setAutoplayHandler(c echo.Context) error {
	form := struct {
		Enabled bool `json:"enabled" form:"enabled"`
	}{}
	if err := c.Bind(&form); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "missing enabled flag"})
	}

	ctx := c.Request().Context()
	playlist, err := rt.repo.GetPlaylistByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if playlist.OwnerID != userIDFromContext(c) {
		return ErrForbidden
	}
	playlist.Autoplay = form.Enabled
	playlist.UpdatedAt = time.Now().UTC()
	if err := rt.repo.UpdatePlaylist(ctx, *playlist); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, playlist)
}

func (rt *Router) listSongsHandler(c echo.Context) error {
	queue, err := rt.store.List(c.Request().Context(), c.Param("id"), rt.optionalIdentity(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"songs": queue})
}

func (rt *Router) addSongHandler(c echo.Context) error {
	form := struct {
		MediaRef     string `json:"mediaRef" form:"mediaRef"`
		YoutubeID    string `json:"youtubeId" form:"youtubeId"`
		Title        string `json:"title" form:"title"`
		ThumbnailURL string `json:"thumbnailUrl" form:"thumbnailUrl"`
	}{}
	if err := c.Bind(&form); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "missing song data"})
	}
	mediaRef := form.MediaRef
	if mediaRef == "" {
		mediaRef = form.YoutubeID
	}

	song, err := rt.store.Enqueue(c.Request().Context(), c.Param("id"), mediaRef,
		form.Title, form.ThumbnailURL, userIDFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, song)
}

func (rt *Router) voteSongHandler(c echo.Context) error {
	form := struct {
		Value int `json:"value" form:"value"`
	}{}
	if err := c.Bind(&form); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "missing vote value"})
	}

	result, err := rt.ledger.CastVote(c.Request().Context(), c.Param("id"),
		userIDFromContext(c), form.Value)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (rt *Router) removeSongHandler(c echo.Context) error {
	if err := rt.store.Remove(c.Request().Context(), c.Param("id"), userIDFromContext(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (rt *Router) setPlayingHandler(c echo.Context) error {
	if err := rt.store.SetPlaying(c.Request().Context(), c.Param("id"), userIDFromContext(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Done"})
}
