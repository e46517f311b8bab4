// this file implements registration, login and session probing - identity is
// presented to the queue core as nothing more than a user id per request
package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo"
	"golang.org/x/crypto/bcrypt"
)

const tokenLifetime = time.Hour * 72

func (rt *Router) issueToken(userID string) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)
	claims := token.Claims.(jwt.MapClaims)
	claims["user_id"] = userID
	claims["exp"] = time.Now().Add(tokenLifetime).Unix()
	return token.SignedString(rt.jwtSecret)
}

func (rt *Router) registerHandler(c echo.Context) error {
	form := struct {
		Email    string `json:"email" form:"email"`
		Password string `json:"password" form:"password"`
		Name     string `json:"name" form:"name"`
	}{}
	if err := c.Bind(&form); err != nil || form.Email == "" || len(form.Password) < 6 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"message": "email and a password of at least 6 characters are required",
		})
	}

	ctx := c.Request().Context()
	if _, err := rt.repo.GetUserByEmail(ctx, form.Email); err == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "email already registered"})
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := User{
		ID:           uuid.NewString(),
		Name:         form.Name,
		Email:        form.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := rt.repo.InsertUser(ctx, user); err != nil {
		return err
	}

	token, err := rt.issueToken(user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"token": token, "user": user})
}

func (rt *Router) loginHandler(c echo.Context) error {
	form := struct {
		Email    string `json:"email" form:"email"`
		Password string `json:"password" form:"password"`
	}{}
	if err := c.Bind(&form); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "missing credentials"})
	}

	user, err := rt.repo.GetUserByEmail(c.Request().Context(), form.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"message": "bad email or password"})
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(form.Password)) != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "bad email or password"})
	}

	token, err := rt.issueToken(user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"token": token, "user": user})
}

func (rt *Router) sessionHandler(c echo.Context) error {
	userID := rt.optionalIdentity(c)
	if userID == "" {
		return c.JSON(http.StatusOK, echo.Map{"isLoggedIn": false})
	}
	user, err := rt.repo.GetUserByID(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusOK, echo.Map{"isLoggedIn": false})
	}
	return c.JSON(http.StatusOK, echo.Map{"isLoggedIn": true, "user": user})
}

// userIDFromContext reads the identity the JWT middleware attached.
func userIDFromContext(c echo.Context) string {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	userID, _ := claims["user_id"].(string)
	return userID
}

// optionalIdentity parses a bearer token or ?token= without requiring one,
// for the session probe and the socket endpoint.
func (rt *Router) optionalIdentity(c echo.Context) string {
	raw := c.QueryParam("token")
	if raw == "" {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		raw = strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			return ""
		}
	}
	if raw == "" {
		return ""
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return rt.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	userID, _ := claims["user_id"].(string)
	return userID
}
