// Package llm generates text completions for code summarization.
//
// Two providers are available: OpenAI (and any API speaking the
// /chat/completions protocol) and Ollama. Both share a transport that
// throttles requests, retries transient failures and wraps every error in
// types.ErrGenerationFailure.
//
//	c, err := llm.New(llm.Config{Provider: "openai", APIKey: key})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	completion, err := c.Complete(ctx, llm.Request{
//	    Prompt: prompt,
//	    Schema: llm.SchemaFor("code_summary", &Summary{}),
//	})
//
// Setting Request.Stream delivers deltas as they arrive. Streaming supports a
// single reply only; asking for more fails with types.ErrStreamingMisuse
// before anything is sent.
package llm
