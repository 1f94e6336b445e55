package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Upload a crop photo
// (POST /api/images)
func (s *Server) PostImage(c *gin.Context) {
	const op = "PostImage"
	if s.photos == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "image upload is not configured"})
		return
	}
	image, err := s.photos.Upload(c.Request.Context(), currentUserID(c), c.Request.Body)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.Header("Location", image.Url)
	c.JSON(http.StatusCreated, gin.H{"image": image})
}
