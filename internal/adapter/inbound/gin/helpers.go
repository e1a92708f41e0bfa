package gin

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clipforge/server/internal/module/task"
)

// queryInt reads an integer query parameter, falling back to def.
func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// taskFilter builds a list filter from the query string.
func taskFilter(c *gin.Context) *task.Filter {
	filter := &task.Filter{Limit: queryInt(c, "limit", 50)}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if v := c.Query("kind"); v != "" {
		kind := task.Kind(v)
		filter.Kind = &kind
	}
	if v := c.Query("status"); v != "" {
		status := task.Status(v)
		filter.Status = &status
	}
	return filter
}
