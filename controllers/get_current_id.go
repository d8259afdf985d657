package controllers

import (
	"errors"
	"strconv"

	"github.com/manodhiambo/school-management-system-sub003/middlewares"

	"github.com/gin-gonic/gin"
)

func currentTenantID(c *gin.Context) (string, error) {
	v := c.GetString(middlewares.CtxTenantID)
	if v == "" {
		return "", errors.New("tenant_id missing from context")
	}
	return v, nil
}

func currentUserID(c *gin.Context) string {
	return c.GetString(middlewares.CtxUserID)
}

func paramID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid " + name)
	}
	return uint(id), nil
}
