// Copyright (C) 2025 Benedict Bihl (hello@benedictbihl.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

// defaultCondenseTemplate rewrites a follow-up question into a standalone
// question, carrying along the relevant slice of conversation history.
// Rendered with {{.chat_history}} and {{.question}}.
const defaultCondenseTemplate = "You are being asked questions about Benedict, a 27 Year old Developer living in Munich. " +
	"Given the following conversation and a follow up question, return the conversation history excerpt " +
	"that includes any relevant context to the question if it exists and rephrase the follow up question " +
	"to be a standalone question.\n" +
	"Chat History:\n" +
	"{{.chat_history}}\n" +
	"Follow Up Input: {{.question}}\n" +
	"Your answer should follow the following format:\n" +
	"```\n" +
	"Use the following pieces of context to answer the users question.\n" +
	"If you don't know the answer, charmingly suggest that the users asks the real Benedict, don't try to make up an answer.\n" +
	"----------------\n" +
	"<Relevant chat history excerpt as context here>\n" +
	"Standalone question: <Rephrased question here>\n" +
	"```\n" +
	"Your answer:"

// defaultAnswerTemplate is the system prompt for the grounded answer.
// Rendered with {{.context}}, the retrieved chunks joined together. An
// empty context block is fine; the model then leans on the persona and
// defers to the real Benedict for anything it does not know.
const defaultAnswerTemplate = "You are answering questions about Benedict, a 27 Year old Developer living in Munich, " +
	"speaking as his virtual stand-in.\n" +
	"Use the following pieces of context to answer the users question.\n" +
	"If you don't know the answer, charmingly suggest that the users asks the real Benedict, don't try to make up an answer.\n" +
	"----------------\n" +
	"{{.context}}"
