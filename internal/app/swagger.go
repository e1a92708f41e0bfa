package app

import (
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/swaggo/swag"
)

const swaggerInstance = "clipforge"

// emptySpec is served until `mage swagger` has written the document.
const emptySpec = `{"swagger":"2.0","info":{"title":"ClipForge Server API","version":"dev"},"paths":{}}`

// specFile serves the OpenAPI document generated by swag init. It is read on
// every request so regenerating the file needs no restart.
type specFile struct {
	mu   sync.RWMutex
	path string
}

func (s *specFile) setPath(path string) {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
}

// ReadDoc implements swag.Swagger.
func (s *specFile) ReadDoc() string {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()
	if path == "" {
		return emptySpec
	}
	raw, err := os.ReadFile(path)
	if err != nil || len(raw) == 0 {
		return emptySpec
	}
	return string(raw)
}

var (
	swaggerDoc      = &specFile{}
	swaggerRegister sync.Once
)

// mountSwagger serves the swagger UI and document under /swagger.
func mountSwagger(r *gin.Engine, path string) {
	swaggerDoc.setPath(path)
	swaggerRegister.Do(func() {
		swag.Register(swaggerInstance, swaggerDoc)
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler, ginSwagger.InstanceName(swaggerInstance)))
}
