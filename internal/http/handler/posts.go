package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"gitblog/internal/codec"
	"gitblog/internal/logging"
	"gitblog/internal/model"
	"gitblog/internal/service"
)

type listPostsResponse struct {
	Success bool         `json:"success"`
	Data    []model.Post `json:"data"`
}

type postResponse struct {
	Success bool        `json:"success"`
	Data    *model.Post `json:"data"`
}

type documentResponse struct {
	Success bool            `json:"success"`
	Data    codec.Document `json:"data"`
}

type createPostResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	PostID   string `json:"postId"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ListPosts returns every readable post, newest first.
//
// @Summary  List posts
// @Tags     posts
// @Produce  json
// @Success  200 {object} listPostsResponse
// @Failure  500 {object} errorPayload
// @Router   /posts [get]
func ListPosts(svc service.PostService, log logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		posts, err := svc.List(c.UserContext())
		if err != nil {
			return serviceError(c, log, "list posts", err)
		}
		return c.JSON(listPostsResponse{Success: true, Data: posts})
	}
}

// GetPost returns a single post.
//
// @Summary  Get post
// @Tags     posts
// @Produce  json
// @Param    id  path  string  true  "Post ID"
// @Success  200 {object} postResponse
// @Failure  400 {object} errorPayload
// @Failure  404 {object} errorPayload
// @Router   /posts/{id} [get]
func GetPost(svc service.PostService, log logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		post, err := svc.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return serviceError(c, log, "get post", err)
		}
		return c.JSON(postResponse{Success: true, Data: post})
	}
}

// GetPostDocument returns the post content as a structured editor document.
//
// @Summary  Get post as editor document
// @Tags     posts
// @Produce  json
// @Param    id  path  string  true  "Post ID"
// @Success  200 {object} documentResponse
// @Failure  404 {object} errorPayload
// @Router   /posts/{id}/document [get]
func GetPostDocument(svc service.PostService, log logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		post, err := svc.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return serviceError(c, log, "get post document", err)
		}
		return c.JSON(documentResponse{Success: true, Data: codec.Decode(post.Content, post.ContentFiles)})
	}
}

// CreatePost stores a new post with its attachments and inline media.
//
// @Summary  Create post
// @Tags     posts
// @Accept   multipart/form-data
// @Produce  json
// @Param    title         formData  string  true   "Title"
// @Param    content       formData  string  false  "Content markup"
// @Param    document      formData  string  false  "Editor document JSON, used when content is empty"
// @Param    contentFiles  formData  string  false  "Inline media records JSON"
// @Param    files         formData  file    false  "Attachments"
// @Success  201 {object} createPostResponse
// @Failure  400 {object} errorPayload
// @Failure  409 {object} errorPayload
// @Router   /posts [post]
func CreatePost(svc service.PostService, log logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		form, err := parsePostForm(c)
		if err == nil {
			err = form.validate()
		}
		if err != nil {
			return formFailure(c, err)
		}
		res, err := svc.Create(c.UserContext(), service.CreatePostInput{
			Title:        form.Title,
			Content:      form.Content,
			Files:        form.Files,
			ContentFiles: form.ContentFiles,
		})
		if err != nil {
			return serviceError(c, log, "create post", err)
		}
		return c.Status(fiber.StatusCreated).JSON(createPostResponse{
			Success:  true,
			Filename: res.Filename,
			PostID:   res.PostID,
		})
	}
}

// UpdatePost reconciles a stored post with the submitted state.
//
// @Summary  Update post
// @Tags     posts
// @Accept   multipart/form-data
// @Produce  json
// @Param    id             path      string  true   "Post ID"
// @Param    title          formData  string  true   "Title"
// @Param    content        formData  string  false  "Content markup"
// @Param    document       formData  string  false  "Editor document JSON, used when content is empty"
// @Param    contentFiles   formData  string  false  "Inline media records JSON"
// @Param    filesToDelete  formData  string  false  "Attachment records to delete, JSON"
// @Param    files          formData  file    false  "New attachments"
// @Success  200 {object} messageResponse
// @Failure  400 {object} errorPayload
// @Failure  404 {object} errorPayload
// @Failure  409 {object} errorPayload
// @Router   /posts/{id} [put]
func UpdatePost(svc service.PostService, log logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		form, err := parsePostForm(c)
		if err == nil {
			err = form.validate()
		}
		if err != nil {
			return formFailure(c, err)
		}
		if _, err := svc.Update(c.UserContext(), service.UpdatePostInput{
			ID:            c.Params("id"),
			Title:         form.Title,
			Content:       form.Content,
			Files:         form.Files,
			ContentFiles:  form.ContentFiles,
			FilesToDelete: form.FilesToDelete,
		}); err != nil {
			return serviceError(c, log, "update post", err)
		}
		return c.JSON(messageResponse{Success: true, Message: "Post updated successfully"})
	}
}

// DeletePost removes a post and every file it owns.
//
// @Summary  Delete post
// @Tags     posts
// @Produce  json
// @Param    id  path  string  true  "Post ID"
// @Success  200 {object} messageResponse
// @Failure  404 {object} errorPayload
// @Router   /posts/{id} [delete]
func DeletePost(svc service.PostService, log logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.Delete(c.UserContext(), c.Params("id")); err != nil {
			return serviceError(c, log, "delete post", err)
		}
		return c.JSON(messageResponse{Success: true, Message: "Post deleted successfully"})
	}
}

func formFailure(c *fiber.Ctx, err error) error {
	var fe *formError
	if errors.As(err, &fe) {
		return writeError(c, fiber.StatusBadRequest, fe.code, fe.Error())
	}
	return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", "bad request")
}
