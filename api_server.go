package main

import (
	"context"
	"encoding/json"

	routing "github.com/jackwhelpton/fasthttp-routing/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/kcz17/benchram/session"
)

// APIServer lets an operator start and stop sessions over HTTP.
type APIServer struct {
	Session *session.Session
}

type sessionStatus struct {
	State string `json:"state"`
	ID    string `json:"id,omitempty"`
	Addr  string `json:"addr,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *APIServer) ListenAndServe(addr string) error {
	return fasthttp.ListenAndServe(addr, s.router().HandleRequest)
}

func (s *APIServer) router() *routing.Router {
	router := routing.New()

	router.Get("/session", s.sessionStatusHandler())
	router.Post("/session", s.startSessionHandler())
	router.Delete("/session", s.stopSessionHandler())

	return router
}

func (s *APIServer) sessionStatusHandler() routing.Handler {
	return func(c *routing.Context) error {
		return s.writeStatus(c, fasthttp.StatusOK, nil)
	}
}

func (s *APIServer) startSessionHandler() routing.Handler {
	return func(c *routing.Context) error {
		handle, err := s.Session.Start()
		if err == session.ErrAlreadyRunning {
			return s.writeStatus(c, fasthttp.StatusConflict, err)
		}
		if err != nil {
			return s.writeStatus(c, fasthttp.StatusInternalServerError, err)
		}

		id := s.Session.ID()
		go func() {
			if err := handle.Wait(context.Background()); err != nil {
				log.WithError(err).WithField("session", id).Error("session ended with error")
			}
		}()
		return s.writeStatus(c, fasthttp.StatusCreated, nil)
	}
}

func (s *APIServer) stopSessionHandler() routing.Handler {
	return func(c *routing.Context) error {
		if err := s.Session.Stop(); err != nil {
			return s.writeStatus(c, fasthttp.StatusInternalServerError, err)
		}
		return s.writeStatus(c, fasthttp.StatusOK, nil)
	}
}

func (s *APIServer) writeStatus(c *routing.Context, status int, err error) error {
	response := sessionStatus{
		State: s.Session.State().String(),
		ID:    s.Session.ID(),
		Addr:  s.Session.Addr(),
	}
	if err != nil {
		response.Error = err.Error()
	}

	b, marshalErr := json.Marshal(&response)
	if marshalErr != nil {
		return errors.Wrap(marshalErr, "could not marshal session status")
	}
	c.SetStatusCode(status)
	c.SetContentType("application/json")
	return c.Write(b)
}
