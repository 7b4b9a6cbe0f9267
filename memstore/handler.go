package memstore

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/hatlonely/odm/errs"
	"github.com/hatlonely/odm/wire"
)

// NewHandler 以 REST 接口暴露 Store
func NewHandler(store *Store) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	{
		api.POST("/entities", DefineHandler(store))
		api.GET("/entities", ListEntityTypesHandler(store))
		api.GET("/entities/:type", EntityTypeHandler(store))

		api.POST("/entities/:type/records", CreateHandler(store))
		api.GET("/entities/:type/records/:id", GetHandler(store))
		api.PUT("/entities/:type/records/:id", UpdateHandler(store))
		api.DELETE("/entities/:type/records/:id", DeleteHandler(store))

		api.POST("/query", QueryHandler(store))
		api.POST("/query/join", QueryHandler(store))
		api.POST("/count", CountHandler(store))
	}

	return r
}

func abort(c *gin.Context, err error) {
	var e *Error
	if errors.As(err, &e) {
		c.AbortWithStatusJSON(e.Status, e.ErrorResponse)
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, errs.ErrorResponse{Message: err.Error(), Code: errs.CodeInternal})
}

func bind(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errs.ErrorResponse{Message: "invalid JSON: " + err.Error(), Code: errs.CodeInvalidRequest})
		return false
	}
	return true
}

func DefineHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var def wire.EntityTypeResponse
		if !bind(c, &def) {
			return
		}
		out, err := store.Define(def)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

func ListEntityTypesHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, store.EntityTypes())
	}
}

func EntityTypeHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		def, err := store.EntityType(c.Param("type"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, def)
	}
}

func CreateHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rec wire.Record
		if !bind(c, &rec) {
			return
		}
		out, err := store.Create(c.Param("type"), rec)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

func GetHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := store.Get(c.Param("type"), c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func UpdateHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rec wire.Record
		if !bind(c, &rec) {
			return
		}
		out, err := store.Update(c.Param("type"), c.Param("id"), rec)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func DeleteHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := store.Delete(c.Param("type"), c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, wire.DeleteResponse{Deleted: deleted})
	}
}

func QueryHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wire.QueryRequest
		if !bind(c, &req) {
			return
		}
		out, err := store.Query(req)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func CountHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wire.QueryRequest
		if !bind(c, &req) {
			return
		}
		out, err := store.Count(req)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
